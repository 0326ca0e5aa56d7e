package web

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github.com/swaggest/jsonrpc"
	"github.com/swaggest/openapi-go"
	"github.com/swaggest/swgui"
	"github.com/swaggest/swgui/v5"
	"github.com/ziflex/lecho/v3"

	"hermod/internal/core"
	"hermod/internal/pkg/global"
)

//go:embed description.md
var desc string

type jsonRpcRequest struct {
	ID json.RawMessage `json:"id"`
}

type rpcError struct {
	Message string            `json:"message"`
	Code    jsonrpc.ErrorCode `json:"code"`
}

type rpcErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   rpcError        `json:"error"`
}

// New returns the http handler of web interface.
// Requests to json rpc and session debug routes must carry token in Authorization header,
// an empty token rejects all of them.
func New(c *core.Client, token string, debug bool) http.Handler {
	apiSchema := jsonrpc.OpenAPI{}
	apiSchema.Reflector().SpecEns().Info.Title = "hermod JSON-RPC"
	apiSchema.Reflector().SpecEns().Info.Version = global.Version
	apiSchema.Reflector().SpecEns().Info.WithDescription(desc)
	apiSchema.Reflector().SpecEns().SetAPIKeySecurity("api-key", echo.HeaderAuthorization, openapi.InHeader, "need set api header")

	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	h := &jsonrpc.Handler{
		OpenAPI:              &apiSchema,
		Validator:            &jsonrpc.JSONSchemaValidator{},
		SkipResultValidation: true,
	}

	server := echo.New()
	server.Logger = lecho.From(log.Logger)
	server.HideBanner = true

	server.Use(middleware.Recover())

	r := rpc{h: h, v: v, c: c}

	addTorrent(r)
	listTorrents(r)
	getTorrent(r)
	startTorrent(r)
	stopTorrent(r)
	removeTorrent(r)

	auth := tokenAuth(token)

	if debug {
		server.Debug = true
		registerDebugRoutes(server.Group("/debug"), c, auth)
	}

	server.POST("/json_rpc", echo.WrapHandler(h), auth)

	server.GET("/docs/openapi.json", echo.WrapHandler(h.OpenAPI))
	server.GET("/docs/*", echo.WrapHandler(v5.NewHandlerWithConfig(swgui.Config{
		Title:       apiSchema.Reflector().Spec.Info.Title,
		SwaggerJSON: "/docs/openapi.json",
		BasePath:    "/docs/",
		SettingsUI:  jsonrpc.SwguiSettings(map[string]string{"layout": "'BaseLayout'"}, "/json_rpc"),
	})))

	return server
}

func tokenAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token != "" && c.Request().Header.Get(echo.HeaderAuthorization) == token {
				return next(c)
			}

			res := rpcErrorResponse{
				JSONRPC: "2.0",
				Error:   rpcError{Code: http.StatusUnauthorized, Message: "invalid token"},
			}

			if c.Request().Method == http.MethodPost {
				var r jsonRpcRequest
				if err := json.NewDecoder(c.Request().Body).Decode(&r); err == nil {
					res.ID = r.ID
				}
			}

			return c.JSON(http.StatusUnauthorized, res)
		}
	}
}
