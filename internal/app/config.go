package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
	UserAgent      string

	CacheBackend string
	RedisURL     string
	MongoURI     string
	MongoDB      string
	SQLitePath   string
	ContentTTL   time.Duration
	SourceTTL    time.Duration

	AniListURL           string
	AniListRPM           int
	MALSyncURL           string
	MALSyncCacheTTL      time.Duration
	MangaDexURL          string
	MangaDexLanguage     string
	AnimeSiteURL         string
	MatchMode            string
	MaxCandidates        int
	CandidateConcurrency int
	ProvidersFile        string
	AuthoritativeAnime   string
	AuthoritativeManga   string

	CrawlSchedule   string
	CrawlOnStart    bool
	CrawlType       string
	CrawlIDsPerPage int
	CrawlMaxPages   int
	CrawlPageWait   time.Duration
	CrawlIDWait     time.Duration
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8091"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:      getEnv("USER_AGENT", "animestream-catalog/1.0"),

		CacheBackend: strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		RedisURL:     getEnv("REDIS_URL", ""),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      getEnv("MONGO_DB", "catalog"),
		SQLitePath:   getEnv("SQLITE_PATH", "catalog.db"),
		ContentTTL:   time.Duration(getEnvInt("CONTENT_TTL_HOURS", 12)) * time.Hour,
		SourceTTL:    time.Duration(getEnvInt("SOURCE_TTL_MINUTES", 60)) * time.Minute,

		AniListURL:           getEnv("ANILIST_URL", "https://graphql.anilist.co"),
		AniListRPM:           getEnvInt("ANILIST_REQUESTS_PER_MINUTE", 90),
		MALSyncURL:           getEnv("MALSYNC_URL", "https://api.malsync.moe"),
		MALSyncCacheTTL:      time.Duration(getEnvInt("MALSYNC_CACHE_TTL_HOURS", 24)) * time.Hour,
		MangaDexURL:          getEnv("MANGADEX_URL", "https://api.mangadex.org"),
		MangaDexLanguage:     getEnv("MANGADEX_LANGUAGE", "en"),
		AnimeSiteURL:         getEnv("ANIMESITE_URL", "https://aniwatch.to"),
		MatchMode:            strings.ToLower(getEnv("MATCH_MODE", "thorough")),
		MaxCandidates:        getEnvInt("MAX_CANDIDATES", 10),
		CandidateConcurrency: getEnvInt("CANDIDATE_CONCURRENCY", 4),
		ProvidersFile:        getEnv("PROVIDERS_FILE", ""),
		AuthoritativeAnime:   strings.ToLower(getEnv("AUTHORITATIVE_ANIME", "")),
		AuthoritativeManga:   strings.ToLower(getEnv("AUTHORITATIVE_MANGA", "")),

		CrawlSchedule:   getEnv("CRAWL_SCHEDULE", ""),
		CrawlOnStart:    getEnvBool("CRAWL_ON_START", false),
		CrawlType:       strings.ToUpper(getEnv("CRAWL_TYPE", "ANIME")),
		CrawlIDsPerPage: getEnvInt("CRAWL_IDS_PER_PAGE", 50),
		CrawlMaxPages:   getEnvInt("CRAWL_MAX_PAGES", 1),
		CrawlPageWait:   getEnvDuration("CRAWL_PAGE_WAIT_MS", time.Second),
		CrawlIDWait:     getEnvDuration("CRAWL_ID_WAIT_MS", 0),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvDuration reads a millisecond count. Zero is a valid value; negative
// or malformed input keeps the fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
