package roomchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/docstore"
	"github.com/putto11262002/roomchat/pkg/ratelimit"
	"github.com/putto11262002/roomchat/pkg/router"
	"github.com/putto11262002/roomchat/pkg/upload"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config  *Config
	context context.Context
	server  *http.Server
	logger  *slog.Logger
	router  *router.Router

	exit chan int

	docs        docstore.Store
	limiter     ratelimit.Limiter
	storage     upload.Storage
	uploader    *upload.Uploader
	users       core.UserStore
	auth        core.AuthStore
	friends     core.FriendshipStore
	rooms       *core.RoomManager
	messages    *core.MessageLog
	broadcaster *core.Broadcaster
	gateway     *core.Gateway

	authHandler       *AuthHandler
	userHandler       *UserHandler
	friendshipHandler *FriendshipHandler
	roomHandler       *RoomHandler
	messageHandler    *MessageHandler
	uploadHandler     *UploadHandler
	configHandler     *ClientConfigHandler

	// cleanupFuncs run in reverse order of registration on shutdown.
	cleanupFuncs []func(context.Context)
}

func New(ctx context.Context, config *Config) *App {
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	level := slog.LevelInfo
	if config.Mode == DevMode {
		level = slog.LevelDebug
	}
	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	app.openStore()
	app.openLimiter()
	app.openUploadStorage()

	app.users = core.NewDocUserStore(app.docs)
	app.auth = core.NewTokenAuthStore(app.users, core.TokenAuthConfig{
		AccessSecret:  config.Auth.AccessSecret,
		RefreshSecret: config.Auth.RefreshSecret,
		AccessTTL:     config.Auth.AccessTTL,
		RefreshTTL:    config.Auth.RefreshTTL,
		Provider:      app.providerVerifier(),
	})
	app.friends = core.NewDocFriendshipStore(app.docs, app.users)
	app.rooms = core.NewRoomManager(app.docs, app.users)
	app.messages = core.NewMessageLog(app.docs, app.rooms, app.users)
	app.uploader = upload.NewUploader(app.storage, upload.Config{
		PublicURL:   config.Upload.PublicURL,
		MaxFileSize: config.Upload.MaxFileSize,
		MaxFiles:    config.Upload.MaxFiles,
	})

	app.broadcaster = core.NewBroadcaster(app.users, app.logger)
	app.gateway = core.NewGateway(app.context, app.auth, app.users, app.rooms, app.messages, app.broadcaster,
		core.WithLogger(app.logger),
		core.WithCheckOrigin(originChecker(config.AllowedOrigins)))
	app.AddCleanupFunc(func(ctx context.Context) {
		app.gateway.Close()
	})

	app.authHandler = NewAuthHandler(app.auth, app.users)
	app.userHandler = NewUserHandler(app.users, app.uploader)
	app.friendshipHandler = NewFriendshipHandler(app.friends)
	app.roomHandler = NewRoomHandler(app.rooms, app.broadcaster)
	app.messageHandler = NewMessageHandler(app.messages, app.broadcaster)
	app.uploadHandler = NewUploadHandler(app.uploader, app.rooms)
	app.configHandler = NewClientConfigHandler(config.Firebase, config.Zego)

	app.routes()

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Hostname, config.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if config.TLS.Crt != "" {
		app.server.TLSConfig = tlsConfig()
	}

	return app
}

func (app *App) openStore() {
	switch app.config.Store.Driver {
	case "mongo":
		store, err := docstore.NewMongoStore(app.context, docstore.MongoConfig{
			URI:            app.config.Mongo.URI,
			Database:       app.config.Mongo.Database,
			ConnectTimeout: app.config.Mongo.Timeout,
		})
		if err != nil {
			failed(1, "failed to connect to mongo: %v\n", err)
		}
		app.docs = store
	default:
		sqliteOptions := &docstore.SQLiteDBOption{
			Mode:        "rwc",
			Cache:       "shared",
			JournalMode: "WAL",
		}
		db, err := docstore.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
		if err != nil {
			failed(1, "failed to open database: %v\n", err)
		}
		if err := db.Migrate(); err != nil {
			failed(1, "failed to migrate database: %v\n", err)
		}
		app.docs = docstore.NewSQLiteStore(db.DB)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.docs.Close()
	})
}

// openLimiter shares rate limit windows through redis when it is configured
// and reachable, and keeps them in memory otherwise.
func (app *App) openLimiter() {
	if app.config.Redis.Addr == "" {
		app.limiter = ratelimit.NewLocalLimiter()
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     app.config.Redis.Addr,
		Password: app.config.Redis.Password,
		DB:       app.config.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(app.context, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		app.logger.Warn(fmt.Sprintf("redis unavailable, rate limiting in memory: %v", err))
		client.Close()
		app.limiter = ratelimit.NewLocalLimiter()
		return
	}

	app.limiter = ratelimit.NewRedisLimiter(client, "roomchat:ratelimit:")
	app.AddCleanupFunc(func(ctx context.Context) {
		client.Close()
	})
}

func (app *App) openUploadStorage() {
	switch app.config.Upload.Backend {
	case "jetstream":
		storage, err := upload.NewJetStreamStorage(app.context, app.config.NATS.URL, app.config.NATS.Bucket)
		if err != nil {
			failed(1, "failed to open upload bucket: %v\n", err)
		}
		app.AddCleanupFunc(func(ctx context.Context) {
			storage.Close()
		})
		app.storage = storage
	default:
		storage, err := upload.NewDiskStorage(app.config.Upload.Dir)
		if err != nil {
			failed(1, "failed to open upload dir: %v\n", err)
		}
		app.storage = storage
	}
}

func (app *App) providerVerifier() core.TokenVerifier {
	provider := app.config.Auth.Provider
	if provider.PublicKeyFile == "" {
		return nil
	}
	pem, err := os.ReadFile(provider.PublicKeyFile)
	if err != nil {
		failed(1, "failed to read provider public key: %v\n", err)
	}
	verifier, err := core.NewRSAVerifier(pem, provider.Issuer)
	if err != nil {
		failed(1, "failed to parse provider public key: %v\n", err)
	}
	return verifier
}

// originChecker accepts socket handshakes from the allowed origins. Clients
// that send no origin, such as mobile apps, are accepted.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

func (app *App) routes() {
	app.router = router.New(
		router.WithLogger(app.logger),
		router.WithErrorMapper(core.MapError),
		router.WithDebug(app.config.Mode == DevMode))

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
	}))

	// must be set before the sub routers are mounted for them to inherit it
	app.router.NotFound(func(w http.ResponseWriter, r *http.Request) error {
		return router.NotFoundError
	})

	app.router.Get("/health", healthHandler)
	app.router.Get("/ws", app.gateway.Handler)

	authMiddleware := core.BearerMiddleware(app.auth)

	app.router.Route("/api", func(api *router.Router) {
		api.Use(ratelimit.Middleware(app.limiter, app.config.RateLimit.Requests, app.config.RateLimit.Window,
			ratelimit.WithLogger(app.logger)))

		api.Get("/", bannerHandler)
		api.Get("/uploads/*", app.uploadHandler.ServeHandler)
		api.Get("/config/firebase", app.configHandler.FirebaseHandler)
		api.Get("/config/zego", app.configHandler.ZegoHandler)

		api.Route("/auth", func(r *router.Router) {
			r.Post("/register", app.authHandler.RegisterHandler)
			r.Post("/login", app.authHandler.LoginHandler)
			r.Post("/refresh", app.authHandler.RefreshHandler)
			r.With(authMiddleware).Get("/me", app.authHandler.MeHandler)
			r.With(authMiddleware).Post("/logout", app.authHandler.LogoutHandler)
		})

		api.Group(func(r *router.Router) {
			r.Use(authMiddleware)

			r.Get("/users/search", app.userHandler.SearchUsersHandler)
			r.Get("/users/{userID}", app.userHandler.GetUserHandler)
			r.Put("/users/{userID}", app.userHandler.UpdateProfileHandler)
			r.Post("/users/{userID}/photo", app.userHandler.UploadPhotoHandler)

			r.Post("/friendships/request", app.friendshipHandler.SendRequestHandler)
			r.Post("/friendships/accept/{requestID}", app.friendshipHandler.AcceptHandler)
			r.Post("/friendships/reject/{requestID}", app.friendshipHandler.RejectHandler)
			r.Get("/friendships", app.friendshipHandler.FriendsHandler)
			r.Get("/friendships/requests", app.friendshipHandler.PendingRequestsHandler)
			r.Delete("/friendships/{friendID}", app.friendshipHandler.RemoveHandler)

			r.Post("/rooms", app.roomHandler.CreateRoomHandler)
			r.Get("/rooms", app.roomHandler.ListRoomsHandler)
			r.Get("/rooms/{roomID}", app.roomHandler.GetRoomHandler)
			r.Put("/rooms/{roomID}", app.roomHandler.UpdateRoomHandler)
			r.Delete("/rooms/{roomID}", app.roomHandler.DeleteRoomHandler)
			r.Post("/rooms/{roomID}/members", app.roomHandler.AddMembersHandler)
			r.Delete("/rooms/{roomID}/members/{userID}", app.roomHandler.RemoveMemberHandler)

			r.Post("/messages", app.messageHandler.SendMessageHandler)
			r.Get("/messages/unread", app.messageHandler.UnreadCountHandler)
			r.Get("/messages/{roomID}", app.messageHandler.ListMessagesHandler)
			r.Put("/messages/{messageID}/read", app.messageHandler.MarkReadHandler)
			r.Put("/messages/{messageID}", app.messageHandler.EditMessageHandler)
			r.Delete("/messages/{messageID}", app.messageHandler.DeleteMessageHandler)

			r.Post("/upload/images", app.uploadHandler.UploadImagesHandler)
			r.Delete("/upload/images", app.uploadHandler.DeleteImagesHandler)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func healthHandler(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Server is running"})
}

func bannerHandler(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]string{"message": "Chat API v1.0"})
}

// Handler returns the root http handler.
func (app *App) Handler() http.Handler {
	return app.router
}

func (app *App) Start() {
	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()

		done := make(chan struct{})
		go func() {
			app.Close(closeCtx)
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})
	app.logger.Info(fmt.Sprintf("app running in %s mode on: %s:%d",
		app.config.Mode, app.config.Hostname, app.config.Port))

	var err error
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
	} else {
		err = app.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	if code != 0 {
		failed(code, "app exit with code: %d\n", code)
	} else {
		os.Exit(code)
	}
}

// Close runs the cleanup funcs, the most recently added first.
func (app *App) Close(ctx context.Context) {
	for _, f := range slices.Backward(app.cleanupFuncs) {
		f(ctx)
	}
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
