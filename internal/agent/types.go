package agent

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ConnectionState is the agent client's link to the MyJDownloader service.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateReconnecting ConnectionState = "RECONNECTING"
)

// Connected reports whether s counts as connected for the badge.
func (s ConnectionState) Connected() bool { return s == StateConnected }

// Device is a JDownloader instance registered on the account.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Status string `json:"status,omitempty"`
}

// AddLinksQuery is the linkgrabber submission payload.
type AddLinksQuery struct {
	Links             string `json:"links"`
	PackageName       string `json:"packageName,omitempty"`
	AutoExtract       *bool  `json:"autoExtract,omitempty"`
	Autostart         *bool  `json:"autostart,omitempty"`
	Priority          string `json:"priority,omitempty"`
	DownloadPassword  string `json:"downloadPassword,omitempty"`
	ExtractPassword   string `json:"extractPassword,omitempty"`
	DestinationFolder string `json:"destinationFolder,omitempty"`
	SourceURL         string `json:"sourceUrl,omitempty"`
}

// Session is the serializable state of a logged-in client. It never holds
// the account password.
type Session struct {
	Email                 string `json:"email"`
	SessionToken          string `json:"sessiontoken"`
	RegainToken           string `json:"regaintoken"`
	ServerEncryptionToken string `json:"serverEncryptionToken"`
	DeviceEncryptionToken string `json:"deviceEncryptionToken"`
}

// Encode serializes the session into the opaque string that is persisted.
func (s Session) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSession parses a persisted session. Unusable data is an error so the
// caller can treat it as absent.
func DecodeSession(raw string) (Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if s.SessionToken == "" || s.RegainToken == "" {
		return Session{}, fmt.Errorf("decode session: missing tokens")
	}
	if _, err := s.keys(); err != nil {
		return Session{}, err
	}
	return s, nil
}

type sessionKeys struct {
	server []byte
	device []byte
}

func (s Session) keys() (sessionKeys, error) {
	server, err := hex.DecodeString(s.ServerEncryptionToken)
	if err != nil || len(server) != 32 {
		return sessionKeys{}, fmt.Errorf("decode session: bad server token")
	}
	device, err := hex.DecodeString(s.DeviceEncryptionToken)
	if err != nil || len(device) != 32 {
		return sessionKeys{}, fmt.Errorf("decode session: bad device token")
	}
	return sessionKeys{server: server, device: device}, nil
}

// StateRecord is the persisted mirror of the client's connection state.
type StateRecord struct {
	State       ConnectionState `json:"state"`
	IsConnected bool            `json:"isConnected"`
}
