package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rfvalente/morada/config"
	"github.com/rfvalente/morada/internal/agent/core"
	"github.com/rfvalente/morada/internal/agent/telemetry"
	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/session"
	"github.com/rfvalente/morada/session/inmemory"
	"github.com/rfvalente/morada/tools/geocode"
	"github.com/rfvalente/morada/tools/places"
	"github.com/rfvalente/morada/tools/telephony"
	"github.com/rfvalente/morada/tools/webfetch"
	"github.com/rfvalente/morada/tools/websearch"
)

// Run wires the full pipeline from cfg and serves HTTP until the listener
// stops. addr overrides the configured listen address when non-empty.
func Run(addr string, cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.Origins(),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	if err := cfg.Validate(); err != nil {
		// Keep serving; the chat surface explains what is missing.
		baseLogger.Printf("%v", err)
	}

	tele := telemetry.New(nil)
	sessions := inmemory.New(cfg.Session.Capacity, nil)
	tele.ObserveSessions(sessions.Len)

	coord, err := buildCoordinator(cfg, sessions, tele)
	if err != nil {
		return err
	}

	e.GET("/health", health)
	e.GET("/metrics", echo.WrapHandler(tele.Handler()))

	api := e.Group("/api")
	ch := &ChatHandler{Coord: coord, Logger: baseLogger}
	ch.Register(api)
	nh := &NegotiateHandler{Coord: coord, Logger: baseLogger}
	nh.Register(api)

	if addr == "" {
		addr = cfg.Server.Addr()
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// buildCoordinator assembles the provider clients and agents behind one
// coordinator (top-level DI).
func buildCoordinator(cfg *config.Config, sessions session.Store, tele *telemetry.Telemetry) (*core.Coordinator, error) {
	gateway := llm.New(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		OnRetry: tele.RecordLLMRetry,
	}, nil)

	var search core.SearchProvider
	if cfg.Search.APIKey != "" {
		search = websearch.New(websearch.Config{
			APIKey:  cfg.Search.APIKey,
			BaseURL: cfg.Search.BaseURL,
		}, nil)
	} else {
		log.Printf("[SERVER] SEARCH_PROVIDER_API_KEY not set, using direct portal fetch")
		search = webfetch.New(webfetch.Config{}, nil)
	}

	geocoder, err := geocode.New(geocode.Config{APIKey: cfg.Geocoder.APIKey, Country: "pt"}, nil)
	if err != nil {
		return nil, err
	}
	pois := places.New(places.Config{APIKey: cfg.POI.APIKey}, nil)
	phone := telephony.New(telephony.Config{
		APIKey:        cfg.Telephony.APIKey,
		AssistantID:   cfg.Telephony.AssistantID,
		PhoneNumberID: cfg.Telephony.PhoneNumberID,
	}, nil)

	return core.NewCoordinator(core.CoordinatorDeps{
		Scoping:   core.NewScopingAgent(gateway, nil),
		General:   core.NewGeneralAgent(gateway, search, nil),
		Research:  core.NewResearchAgent(gateway, search, nil, nil),
		Mapping:   core.NewMappingAgent(geocoder, nil),
		Local:     core.NewLocalAgent(pois, nil),
		Community: core.NewCommunityAgent(gateway, search, nil),
		Negotiator: core.NewNegotiationAgent(gateway, search, phone, core.NegotiationConfig{
			TargetNumber: cfg.Telephony.TargetNumber,
		}, nil),
		Sessions: sessions,
		Metrics:  tele,
	}), nil
}
