// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/arcadia-gg/arcadia/internal/auth"
	"github.com/arcadia-gg/arcadia/internal/cache"
	"github.com/arcadia-gg/arcadia/internal/database"
	"github.com/arcadia-gg/arcadia/internal/generator"
	"github.com/arcadia-gg/arcadia/internal/handlers"
	"github.com/arcadia-gg/arcadia/internal/middleware"
	"github.com/arcadia-gg/arcadia/internal/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

// defaultPool seeds the in-memory profile so boards can be generated without
// a card_pool table.
var defaultPool = generator.StaticSource{
	{Text: "Finish a level without taking damage", Tier: 2, Tags: []string{"challenge"}},
	{Text: "Collect 100 coins", Tier: 1, Tags: []string{"collection"}},
	{Text: "Beat a boss under two minutes", Tier: 3, Tags: []string{"speedrun"}},
	{Text: "Find a hidden area", Tier: 1, Tags: []string{"exploration"}},
	{Text: "Complete a side quest", Tier: 2, Tags: []string{"exploration"}},
	{Text: "Win a round without items", Tier: 3, Tags: []string{"challenge"}},
	{Text: "Trigger a secret cutscene", Tier: 2, Tags: []string{"exploration"}},
	{Text: "Clear a stage blindfolded", Tier: 3, Tags: []string{"challenge"}},
	{Text: "Max out one stat", Tier: 1, Tags: []string{"collection"}},
}

func main() {
	auth.Init()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	var (
		srv     *handlers.SessionServer
		creator handlers.SessionCreator
		source  generator.CardSource
	)

	if os.Getenv("ARCADIA_IN_MEMORY") == "true" {
		// Dev profile: no postgres, no redis, pushes stay in-process.
		hub := session.NewHub()
		mem := session.NewMemStore(hub)
		srv = &handlers.SessionServer{Store: mem, Hub: hub}
		creator = mem
		source = defaultPool
		logger.Warn("running with in-memory store; state is lost on restart")
	} else {
		database.ConnectDB()
		if err := cache.ConnectRedis(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		store := database.NewSessionStore(database.DB)
		srv = handlers.NewSessionServer(store, cache.Rdb, logger)
		creator = store
		source = database.NewCardStore(database.DB)
	}

	gen := generator.NewGenerator(source)

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", handlers.HealthHandler(database.DB, cache.Rdb))

	// user endpoints
	mux.HandleFunc("/user/create", handlers.CreateUserHandler)
	mux.HandleFunc("/user/login", handlers.LoginHandler)

	// board + session endpoints
	mux.Handle("/board/generate", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.GenerateBoardHandler(gen),
	)))
	mux.Handle("/session/create", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.CreateSessionHandler(gen, creator),
	)))
	mux.Handle("/session/presence/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.PresenceHandler(logger, srv),
	)))

	// session websocket
	mux.Handle("/session/ws/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.SessionWSHandler(logger, srv),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
