package www

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"krtek/discordbot"
	"krtek/stt"
)

type Sessions interface {
	Sessions() []discordbot.SessionStatus
}

type Queue interface {
	Status() stt.QueueStatus
}

// Status is what the status endpoints read from the running bot.
type Status struct {
	Sessions Sessions
	Queue    Queue
	Guild    discordbot.GuildReader
	GuildID  string
	Log      *log.Logger
}

type statusResponse struct {
	Sessions []discordbot.SessionStatus `json:"sessions"`
	Queue    stt.QueueStatus            `json:"queue"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nick     string `json:"nick,omitempty"`
	Bot      bool   `json:"bot"`
}

func NewRouter(st Status) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		var patterns []string
		for _, route := range r.Routes() {
			patterns = append(patterns, route.Pattern)
		}
		writeJSON(w, http.StatusOK, patterns)
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok\n"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Sessions: st.Sessions.Sessions(),
			Queue:    st.Queue.Status(),
		})
	})

	r.Get("/users", func(w http.ResponseWriter, req *http.Request) {
		members, err := discordbot.GuildMembers(st.Guild, st.GuildID)
		if errors.Is(err, discordbot.ErrMissingGuildID) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			if st.Log != nil {
				st.Log.Error("list members", "error", err)
			}
			http.Error(w, "failed to list members", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, users(members))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func users(members []*dis.Member) []userResponse {
	out := make([]userResponse, 0, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		out = append(out, userResponse{
			ID:       m.User.ID,
			Username: m.User.Username,
			Nick:     m.Nick,
			Bot:      m.User.Bot,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Serve listens on port until ctx is done.
func Serve(ctx context.Context, port int, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
