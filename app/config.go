package roomchat

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Mode string

const (
	DevMode  Mode = "dev"
	ProdMode Mode = "prod"
)

type Config struct {
	// Mode is either dev or prod. Dev mode logs at debug level and adds
	// traces to error responses.
	Mode Mode `validate:"required,oneof=dev prod"`
	// Port is the Port number to listen on. The default is 8080.
	Port int `validate:"required,port"`
	// Hostname is the Hostname to listen on. The default is 0.0.0.0.
	Hostname string `validate:"required"`
	// AllowedOrigins is a list of origins that are allowed to connect to the server.
	// The default is ["*"].
	AllowedOrigins []string
	Auth           struct {
		// The secrets must be base64 encoded. The defaults are random 32 byte strings,
		// so tokens do not survive a restart unless they are set.
		AccessSecret  Base64Encoded `validate:"required"`
		RefreshSecret Base64Encoded `validate:"required"`
		AccessTTL     time.Duration `validate:"required"`
		RefreshTTL    time.Duration `validate:"required"`
		// Provider enables tokens signed by an external identity provider.
		Provider struct {
			PublicKeyFile string
			Issuer        string
		}
	}
	Store struct {
		Driver string `validate:"required,oneof=sqlite mongo"`
	}
	SQLite struct {
		// File is the path to the SQLite database file.
		File string
		// Migrations is the path to the directory that the migration files reside.
		Migrations string
	}
	Mongo struct {
		URI      string
		Database string
		Timeout  time.Duration
	}
	// Redis is optional. Without an address the rate limiter keeps its
	// windows in memory.
	Redis struct {
		Addr     string
		Password string
		DB       int `validate:"min=0"`
	}
	RateLimit struct {
		Requests int           `validate:"required,min=1"`
		Window   time.Duration `validate:"required"`
	}
	Upload struct {
		Backend     string `validate:"required,oneof=disk jetstream"`
		Dir         string
		PublicURL   string `validate:"required"`
		MaxFileSize int64  `validate:"required,min=1"`
		MaxFiles    int    `validate:"required,min=1"`
	}
	NATS struct {
		URL    string
		Bucket string
	}
	TLS struct {
		Crt string
		Key string
	}
	// Firebase and Zego are handed to clients as they are, under /api/config.
	Firebase FirebaseConfig
	Zego     ZegoConfig
	valid    bool
}

type FirebaseConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
	MeasurementID     string `json:"measurementId"`
}

type ZegoConfig struct {
	AppID   int    `json:"appId" validate:"min=0"`
	AppSign string `json:"appSign"`
}

// envAliases are the environment variables client keys are also read from.
var envAliases = map[string]string{
	"firebase.apiKey":            "FIREBASE_API_KEY",
	"firebase.authDomain":        "FIREBASE_AUTH_DOMAIN",
	"firebase.projectId":         "FIREBASE_PROJECT_ID",
	"firebase.storageBucket":     "FIREBASE_STORAGE_BUCKET",
	"firebase.messagingSenderId": "FIREBASE_MESSAGING_SENDER_ID",
	"firebase.appId":             "FIREBASE_APP_ID",
	"firebase.measurementId":     "FIREBASE_MEASUREMENT_ID",
	"zego.appId":                 "ZEGO_APP_ID",
	"zego.appSign":               "ZEGO_APP_SIGN",
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

func randomSecret() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secret), nil
}

// LoadConfig loads the configuration from an optional .env file, an optional
// config.yaml and environment variables, in increasing order of precedence.
// Environment variables use the upper cased key with dots replaced by
// underscores, e.g. AUTH_ACCESSSECRET.
// Any invalid configuration will not be loaded, and the error wil be cought in the validation step.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	accessSecret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	refreshSecret, err := randomSecret()
	if err != nil {
		return nil, err
	}

	// every key needs a default for AutomaticEnv to pick it up on Unmarshal
	defaults := map[string]any{
		"mode":                        DevMode,
		"port":                        8080,
		"hostname":                    "0.0.0.0",
		"allowedOrigins":              []string{"*"},
		"auth.accessSecret":           accessSecret,
		"auth.refreshSecret":          refreshSecret,
		"auth.accessTTL":              time.Hour,
		"auth.refreshTTL":             7 * 24 * time.Hour,
		"auth.provider.publicKeyFile": "",
		"auth.provider.issuer":        "",
		"store.driver":                "sqlite",
		"sqlite.file":                 "./roomchat.db",
		"sqlite.migrations":           "./migrations",
		"mongo.uri":                   "",
		"mongo.database":              "roomchat",
		"mongo.timeout":               10 * time.Second,
		"redis.addr":                  "",
		"redis.password":              "",
		"redis.db":                    0,
		"rateLimit.requests":          100,
		"rateLimit.window":            15 * time.Minute,
		"upload.backend":              "disk",
		"upload.dir":                  "./uploads",
		"upload.publicUrl":            "/api/uploads",
		"upload.maxFileSize":          5 << 20,
		"upload.maxFiles":             10,
		"nats.url":                    "nats://127.0.0.1:4222",
		"nats.bucket":                 "roomchat-uploads",
		"tls.crt":                     "",
		"tls.key":                     "",
	}
	for k := range envAliases {
		defaults[k] = ""
	}
	defaults["zego.appId"] = 0
	for _, k := range slices.Sorted(maps.Keys(defaults)) {
		v.SetDefault(k, defaults[k])
	}
	for _, k := range slices.Sorted(maps.Keys(envAliases)) {
		if err := v.BindEnv(k, strings.ToUpper(strings.ReplaceAll(k, ".", "_")), envAliases[k]); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	if err := validate.Struct(c); err != nil {
		return err
	}

	switch {
	case c.Store.Driver == "sqlite" && (c.SQLite.File == "" || c.SQLite.Migrations == ""):
		return errors.New("sqlite.file and sqlite.migrations are required by the sqlite store")
	case c.Store.Driver == "mongo" && (c.Mongo.URI == "" || c.Mongo.Database == ""):
		return errors.New("mongo.uri and mongo.database are required by the mongo store")
	case c.Upload.Backend == "disk" && c.Upload.Dir == "":
		return errors.New("upload.dir is required by the disk upload backend")
	case c.Upload.Backend == "jetstream" && (c.NATS.URL == "" || c.NATS.Bucket == ""):
		return errors.New("nats.url and nats.bucket are required by the jetstream upload backend")
	case (c.TLS.Crt == "") != (c.TLS.Key == ""):
		return errors.New("tls.crt and tls.key must be set together")
	}

	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error() + "\n"
	}

	var sb strings.Builder
	for _, v := range slices.Sorted(maps.Values(verrs.Translate(enTrans))) {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
