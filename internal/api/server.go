package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/myjd_bridge/internal/metrics"
	"github.com/dgnsrekt/myjd_bridge/internal/queue"
	"github.com/dgnsrekt/myjd_bridge/internal/relay"
	"github.com/dgnsrekt/myjd_bridge/internal/router"
	"github.com/dgnsrekt/myjd_bridge/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ExtensionHeader carries the calling extension's id on raw routes.
const ExtensionHeader = "X-Extension-Id"

// Router is the message router as seen by the HTTP surface.
type Router interface {
	Call(ctx context.Context, msg router.Message, sender router.Sender) (any, bool)
	Snapshot(ctx context.Context) router.State
}

// Queue exposes per-tab queue snapshots.
type Queue interface {
	List(tabID int) []queue.PendingRequest
}

// TabServer serves a tab's content-script WebSocket.
type TabServer interface {
	ServeTab(w http.ResponseWriter, r *http.Request, tab types.TabInfo)
}

// Deps wires the server to the rest of the bridge.
type Deps struct {
	ExtensionID string
	Router      Router
	Queue       Queue
	Tabs        TabServer
	Events      *relay.Broker
	Metrics     *metrics.Metrics
}

type messageBody struct {
	Message router.Message `json:"message"`
	Sender  router.Sender  `json:"sender"`
}

// The envelope is decoded by hand: callers send partial tab objects and
// free-form data that schema validation would reject.
type messageInput struct {
	RawBody []byte
}

type messageOutput struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type stateOutput struct {
	Body router.State
}

type tabInput struct {
	TabID int `path:"tab_id" minimum:"1" doc:"Browser tab id"`
}

type queueOutput struct {
	Body []queue.PendingRequest
}

// NewServer builds the bridge's HTTP handler.
func NewServer(deps Deps) http.Handler {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(requestLogger(deps.Metrics))
	mux.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("MyJDownloader Bridge API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(mux, cfg)

	mux.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}
	if deps.Events != nil {
		mux.With(requireExtension(deps.ExtensionID)).Get("/api/v1/events", relay.SSEHandler(deps.Events))
	}
	if deps.Tabs != nil {
		mux.With(requireExtension(deps.ExtensionID)).Get("/api/v1/tabs/{tab_id}/connect", connectHandler(deps.Tabs))
	}

	registerMessageHandlers(api, deps.Router)
	registerStateHandlers(api, deps.Router, deps.Queue, extensionGuard(api, deps.ExtensionID))

	return mux
}

func registerMessageHandlers(api huma.API, rt Router) {
	huma.Register(api, huma.Operation{
		OperationID: "post-message",
		Method:      http.MethodPost,
		Path:        "/api/v1/messages",
		Summary:     "Route a runtime message",
		Description: "Answers with the handler's response, or 204 when the message is ignored.",
		Tags:        []string{"Messages"},
	}, func(ctx context.Context, input *messageInput) (*messageOutput, error) {
		var body messageBody
		if err := json.Unmarshal(input.RawBody, &body); err != nil {
			return nil, mapErr(types.NewError(types.CodeValidation, "message body is not valid JSON", err))
		}
		if body.Message.Action == "" {
			return nil, mapErr(types.NewError(types.CodeValidation, "message action is required", nil))
		}
		resp, ok := rt.Call(ctx, body.Message, body.Sender)
		if !ok {
			return &messageOutput{Status: http.StatusNoContent}, nil
		}
		b, err := json.Marshal(resp)
		if err != nil {
			return nil, mapErr(err)
		}
		return &messageOutput{Status: http.StatusOK, ContentType: "application/json", Body: b}, nil
	})
}

func registerStateHandlers(api huma.API, rt Router, q Queue, guard func(huma.Context, func(huma.Context))) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/api/v1/state",
		Summary:     "Bridge state: badge, menus, rules, worker and connection",
		Tags:        []string{"State"},
		Middlewares: huma.Middlewares{guard},
	}, func(ctx context.Context, input *struct{}) (*stateOutput, error) {
		out := &stateOutput{}
		out.Body = rt.Snapshot(ctx)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tab-queue",
		Method:      http.MethodGet,
		Path:        "/api/v1/tabs/{tab_id}/queue",
		Summary:     "Pending requests of a tab",
		Tags:        []string{"State"},
		Middlewares: huma.Middlewares{guard},
	}, func(ctx context.Context, input *tabInput) (*queueOutput, error) {
		out := &queueOutput{}
		out.Body = q.List(input.TabID)
		return out, nil
	})
}

func connectHandler(tabs TabServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "tab_id"))
		if err != nil || id <= 0 {
			http.Error(w, "invalid tab id", http.StatusBadRequest)
			return
		}
		q := r.URL.Query()
		tabs.ServeTab(w, r, types.TabInfo{
			ID:         id,
			URL:        q.Get("url"),
			Title:      q.Get("title"),
			FavIconURL: q.Get("favicon"),
		})
	}
}

// extensionGuard is requireExtension for huma operations.
func extensionGuard(api huma.API, extensionID string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		got := ctx.Header(ExtensionHeader)
		if got == "" {
			got = ctx.Query("extension_id")
		}
		if extensionID != "" && got != extensionID {
			_ = huma.WriteErr(api, ctx, http.StatusForbidden, "unknown extension")
			return
		}
		next(ctx)
	}
}

// requireExtension rejects raw-route callers that do not present the
// extension id, by header or by the extension_id query parameter.
func requireExtension(extensionID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ExtensionHeader)
			if got == "" {
				got = r.URL.Query().Get("extension_id")
			}
			if extensionID != "" && got != extensionID {
				http.Error(w, "unknown extension", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeUnauthorized:
			return huma.Error403Forbidden(coded.Message)
		case types.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case types.CodeNotReady:
			return huma.Error503ServiceUnavailable(coded.Message)
		case types.CodeTransportFailure, types.CodeRemoteRejection:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
