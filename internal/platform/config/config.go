package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 20 * time.Second
	defaultStoreBackend         = StoreBackendFirestore
	defaultTxAttempts           = 5
	defaultTxTimeout            = 15 * time.Second
	defaultNotifyQueueSize      = 256
	defaultNotifyWorkers        = 2
	defaultNotifyTimeout        = 5 * time.Second
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBackend   = IdempotencyBackendFirestore
	defaultIdempotencyMaxBody   = 1 << 20
	defaultCreateOrderPerMinute = 20
	defaultCreateOrderBurst     = 5
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecretsFallbackFile  = ".secrets.local"
)

// Store backends.
const (
	StoreBackendFirestore = "firestore"
	StoreBackendMemory    = "memory"
)

// Idempotency backends.
const (
	IdempotencyBackendFirestore = "firestore"
	IdempotencyBackendRedis     = "redis"
	IdempotencyBackendMemory    = "memory"
)

// Notification sinks.
const (
	SinkFirestore = "firestore"
	SinkPubSub    = "pubsub"
	SinkKafka     = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Store         StoreConfig
	Notifications NotificationConfig
	Idempotency   IdempotencyConfig
	RateLimits    RateLimitConfig
	Reports       ReportsConfig
	Security      SecurityConfig
	Secrets       SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig selects the ledger backend and its transaction discipline.
type StoreConfig struct {
	Backend    string
	TxAttempts int
	TxTimeout  time.Duration
}

// NotificationConfig sizes the notification worker and lists its delivery sinks.
type NotificationConfig struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
	Sinks           []string
	PubSubTopic     string
	KafkaBrokers    []string
	KafkaTopic      string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
	Backend         string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	// MaxBodyBytes caps the request body buffered for fingerprinting.
	MaxBodyBytes int
}

// RateLimitConfig controls request throttling on order creation.
type RateLimitConfig struct {
	CreateOrderPerMinute int
	CreateOrderBurst     int
}

// ReportsConfig names the bucket consistency reports are archived to. Empty disables archiving.
type ReportsConfig struct {
	Bucket string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for scheduler routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// SecretsConfig configures Secret Manager resolution.
type SecretsConfig struct {
	DefaultProject string
	FallbackFile   string
}

// HasSink reports whether the named notification sink is enabled.
func (c NotificationConfig) HasSink(name string) bool {
	for _, sink := range c.Sinks {
		if strings.EqualFold(sink, name) {
			return true
		}
	}
	return false
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
// Names are redacted so the error can be logged.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns short hashes of the missing secret names.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Idempotency.RedisPassword") as mandatory secrets.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the configuration from defaults, the .env file, the process environment,
// an explicit map and Secret Manager references, in increasing order of precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := source{lookup: func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}}

	cfg := Config{
		Server: ServerConfig{
			Port:            env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     env.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.dur("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(env.str("API_STORE_BACKEND", defaultStoreBackend)),
			TxAttempts: env.int("API_STORE_TX_ATTEMPTS", defaultTxAttempts),
			TxTimeout:  env.dur("API_STORE_TX_TIMEOUT", defaultTxTimeout),
		},
		Notifications: NotificationConfig{
			QueueSize:       env.int("API_NOTIFY_QUEUE_SIZE", defaultNotifyQueueSize),
			Workers:         env.int("API_NOTIFY_WORKERS", defaultNotifyWorkers),
			DeliveryTimeout: env.dur("API_NOTIFY_DELIVERY_TIMEOUT", defaultNotifyTimeout),
			Sinks:           env.csv("API_NOTIFY_SINKS", []string{SinkFirestore}),
			PubSubTopic:     env.str("API_NOTIFY_PUBSUB_TOPIC", ""),
			KafkaBrokers:    env.csv("API_NOTIFY_KAFKA_BROKERS", nil),
			KafkaTopic:      env.str("API_NOTIFY_KAFKA_TOPIC", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:          env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             env.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: env.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			Backend:         strings.ToLower(env.str("API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			RedisAddr:       env.str("API_IDEMPOTENCY_REDIS_ADDR", ""),
			RedisPassword:   env.str("API_IDEMPOTENCY_REDIS_PASSWORD", ""),
			RedisDB:         env.int("API_IDEMPOTENCY_REDIS_DB", 0),
			MaxBodyBytes:    env.int("API_IDEMPOTENCY_MAX_BODY_BYTES", defaultIdempotencyMaxBody),
		},
		RateLimits: RateLimitConfig{
			CreateOrderPerMinute: env.int("API_RATELIMIT_CREATE_ORDER_PER_MIN", defaultCreateOrderPerMinute),
			CreateOrderBurst:     env.int("API_RATELIMIT_CREATE_ORDER_BURST", defaultCreateOrderBurst),
		},
		Reports: ReportsConfig{
			Bucket: env.str("API_REPORTS_BUCKET", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  env.csv("API_SECURITY_OIDC_ISSUERS", []string{defaultSecurityIssuer}),
			},
		},
		Secrets: SecretsConfig{
			DefaultProject: env.str("API_SECRETS_DEFAULT_PROJECT", ""),
			FallbackFile:   env.str("API_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Secrets.DefaultProject == "" {
		cfg.Secrets.DefaultProject = cfg.Firebase.ProjectID
	}

	resolved := map[string]string{}
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Idempotency.RedisPassword", &cfg.Idempotency.RedisPassword},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var invalid []string
	add := func(field string) { invalid = append(invalid, field) }

	if strings.TrimSpace(cfg.Server.Port) == "" {
		add("Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		add("Firebase.ProjectID")
	}

	needsFirestore := false
	switch cfg.Store.Backend {
	case StoreBackendFirestore:
		needsFirestore = true
	case StoreBackendMemory:
	default:
		add("Store.Backend")
	}
	if cfg.Store.TxAttempts <= 0 {
		add("Store.TxAttempts")
	}
	if cfg.Store.TxTimeout <= 0 {
		add("Store.TxTimeout")
	}

	if cfg.Notifications.QueueSize <= 0 {
		add("Notifications.QueueSize")
	}
	if cfg.Notifications.Workers <= 0 {
		add("Notifications.Workers")
	}
	for _, sink := range cfg.Notifications.Sinks {
		switch strings.ToLower(sink) {
		case SinkFirestore:
			// written through the store backend's notification repository
		case SinkPubSub:
			if cfg.Notifications.PubSubTopic == "" {
				add("Notifications.PubSubTopic")
			}
		case SinkKafka:
			if len(cfg.Notifications.KafkaBrokers) == 0 {
				add("Notifications.KafkaBrokers")
			}
			if cfg.Notifications.KafkaTopic == "" {
				add("Notifications.KafkaTopic")
			}
		default:
			add("Notifications.Sinks")
		}
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		add("Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		add("Idempotency.TTL")
	}
	if cfg.Idempotency.MaxBodyBytes <= 0 {
		add("Idempotency.MaxBodyBytes")
	}
	switch cfg.Idempotency.Backend {
	case IdempotencyBackendFirestore:
		needsFirestore = true
	case IdempotencyBackendRedis:
		if cfg.Idempotency.RedisAddr == "" {
			add("Idempotency.RedisAddr")
		}
	case IdempotencyBackendMemory:
	default:
		add("Idempotency.Backend")
	}

	if needsFirestore && cfg.Firestore.ProjectID == "" {
		add("Firestore.ProjectID")
	}
	if cfg.RateLimits.CreateOrderPerMinute <= 0 {
		add("RateLimits.CreateOrderPerMinute")
	}
	if cfg.RateLimits.CreateOrderBurst <= 0 {
		add("RateLimits.CreateOrderBurst")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "secret://"), "sm://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

// source reads typed values with fallbacks. Unparseable values fall back silently; validate
// catches the ones that matter.
type source struct {
	lookup func(string) (string, bool)
}

func (s source) raw(key string) (string, bool) {
	value, ok := s.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (s source) str(key, fallback string) string {
	if value, ok := s.raw(key); ok {
		return value
	}
	return fallback
}

func (s source) dur(key string, fallback time.Duration) time.Duration {
	if value, ok := s.raw(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) int(key string, fallback int) int {
	if value, ok := s.raw(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) csv(key string, fallback []string) []string {
	value, ok := s.raw(key)
	if !ok {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
