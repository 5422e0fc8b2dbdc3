package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/graphrag-query/internal/auth"
	"github.com/seanblong/graphrag-query/internal/config"
	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/query"
	"github.com/spf13/pflag"
)

// queryRequest is the /query route's JSON body.
type queryRequest struct {
	ProjectID           string                        `json:"projectId"`
	Query               string                        `json:"query"`
	Mode                graphmodel.Mode               `json:"mode"`
	TopK                int                           `json:"topK"`
	ChunkTopK           int                           `json:"chunkTopK"`
	OnlyNeedContext     bool                          `json:"onlyNeedContext"`
	OnlyNeedPrompt      bool                          `json:"onlyNeedPrompt"`
	ResponseType        string                        `json:"responseType"`
	ConversationHistory []graphmodel.ConversationTurn `json:"conversationHistory"`
}

// queryResponse is the /query route's JSON body.
type queryResponse struct {
	Answer       string                   `json:"answer"`
	Mode         graphmodel.Mode          `json:"mode"`
	TotalSources int                      `json:"totalSources"`
	Sources      []graphmodel.SourceChunk `json:"sources"`
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("reposearch-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting reposearch api")

	// Initialize auth with configuration
	auth.InitializeAuth(
		cfg.Auth.JwtSecret,
		cfg.Auth.GithubClientID,
		cfg.Auth.GithubClientSecret,
		cfg.Auth.GithubRedirectURL,
		cfg.Auth.GithubAllowedOrg,
		cfg.Auth.Enabled,
	)

	ctx := context.Background()

	built, err := query.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to wire the query engine: %v", err)
	}
	defer built.Store.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	// Auth status endpoint (always available)
	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]bool{"enabled": auth.IsAuthEnabled()})
		if err != nil {
			http.Error(w, "Failed to encode response", 500)
		}
	})

	// Authentication endpoints (only if auth is enabled)
	if auth.IsAuthEnabled() {
		log.Println("Authentication is ENABLED")

		mux.HandleFunc("/auth/github", func(w http.ResponseWriter, r *http.Request) {
			state := auth.GenerateState()

			// Store state in cookie for validation
			http.SetCookie(w, &http.Cookie{
				Name:     "oauth_state",
				Value:    state,
				Path:     "/",
				MaxAge:   600, // 10 minutes
				HttpOnly: true,
				Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
				SameSite: http.SameSiteLaxMode,
			})

			loginURL := auth.GetGithubLoginURL(state)
			http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
		})

		mux.HandleFunc("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			state := r.URL.Query().Get("state")

			// Validate state
			stateCookie, err := r.Cookie("oauth_state")
			if err != nil || stateCookie.Value != state {
				http.Error(w, "Invalid state parameter", http.StatusBadRequest)
				return
			}

			// Clear state cookie
			http.SetCookie(w, &http.Cookie{
				Name:   "oauth_state",
				Value:  "",
				Path:   "/",
				MaxAge: -1,
			})

			if code == "" {
				http.Error(w, "Missing code parameter", http.StatusBadRequest)
				return
			}

			// Exchange code for token
			accessToken, err := auth.ExchangeCodeForToken(code)
			if err != nil {
				http.Error(w, "Failed to exchange code for token", http.StatusInternalServerError)
				return
			}

			// Get user info
			user, err := auth.GetGithubUser(accessToken)
			if err != nil {
				http.Error(w, "Failed to get user info: "+err.Error(), http.StatusInternalServerError)
				return
			}

			// Generate JWT
			token, err := auth.GenerateJWT(user)
			if err != nil {
				http.Error(w, "Failed to generate token", http.StatusInternalServerError)
				return
			}

			// Set cookie
			http.SetCookie(w, &http.Cookie{
				Name:     "auth_token",
				Value:    token,
				Path:     "/",
				MaxAge:   86400, // 24 hours
				HttpOnly: true,
				Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
				SameSite: http.SameSiteLaxMode,
			})

			// Return user info and token
			w.Header().Set("Content-Type", "application/json")
			err = json.NewEncoder(w).Encode(auth.AuthResponse{
				User:  *user,
				Token: token,
			})
			if err != nil {
				http.Error(w, "Failed to encode response", 500)
			}
		})

		mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header or cookie
			var tokenString string

			authHeader := r.Header.Get("Authorization")
			if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
				tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			} else {
				if cookie, err := r.Cookie("auth_token"); err == nil {
					tokenString = cookie.Value
				}
			}

			if tokenString == "" {
				http.Error(w, "No authentication token", http.StatusUnauthorized)
				return
			}

			user, err := auth.ValidateJWT(tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			err = json.NewEncoder(w).Encode(auth.AuthResponse{
				User:  *user,
				Token: tokenString,
			})
			if err != nil {
				http.Error(w, "Failed to encode response", 500)
			}
		})

		mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "POST" {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}

			// Clear cookie
			http.SetCookie(w, &http.Cookie{
				Name:   "auth_token",
				Value:  "",
				Path:   "/",
				MaxAge: -1,
			})

			w.WriteHeader(http.StatusOK)
		})
	} else {
		log.Println("Authentication is DISABLED - running in open mode")
	}

	mux.HandleFunc("/query", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		start := time.Now()

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Mode == "" {
			req.Mode = graphmodel.ModeHybrid
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		result, err := built.Engine.Query(ctx, req.ProjectID, req.Query, graphmodel.QueryParam{
			Mode:                req.Mode,
			TopK:                req.TopK,
			ChunkTopK:           req.ChunkTopK,
			OnlyNeedContext:     req.OnlyNeedContext,
			OnlyNeedPrompt:      req.OnlyNeedPrompt,
			ResponseType:        req.ResponseType,
			ConversationHistory: req.ConversationHistory,
		})
		if err != nil {
			if errors.Is(err, query.ErrInvalidArgument) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(queryResponse{
			Answer: result.Answer, Mode: result.Mode, TotalSources: result.TotalSources, Sources: result.Sources,
		}); err != nil {
			log.Printf("failed to encode query response: %v", err)
		}

		hlog.FromRequest(r).Info().Str("path", "/query").Str("project_id", req.ProjectID).Str("mode", string(req.Mode)).Dur("dur", time.Since(start)).Msg("served")
	}))

	mux.HandleFunc("/query/invalidate", auth.OptionalAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		projectID := r.URL.Query().Get("projectId")
		if projectID == "" {
			http.Error(w, "missing projectId query parameter", http.StatusBadRequest)
			return
		}
		n := built.Engine.InvalidateCache(r.Context(), projectID)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]int{"invalidated": n}); err != nil {
			log.Printf("failed to encode invalidate response: %v", err)
		}
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
