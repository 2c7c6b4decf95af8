package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type alertPayload struct {
	Kind               string    `json:"kind"`
	Service            string    `json:"service"`
	Subject            string    `json:"subject"`
	Severity           string    `json:"severity"`
	Detail             string    `json:"detail"`
	Score              float64   `json:"score"`
	Probability        float64   `json:"probability"`
	RecommendedActions []string  `json:"recommended_actions"`
	RaisedAt           time.Time `json:"raised_at"`
}

type automationPayload struct {
	Service    string         `json:"service"`
	Strategy   string         `json:"strategy"`
	Parameters map[string]any `json:"parameters"`
}

func main() {
	logger := log.New(log.Writer(), "gateway-mock ", log.LstdFlags|log.Lmicroseconds)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var alert alertPayload
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		logger.Printf("alert %s service=%s subject=%s severity=%s detail=%q",
			alert.Kind, alert.Service, alert.Subject, alert.Severity, alert.Detail)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/api/v1/automation", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req automationPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		logger.Printf("automation service=%s strategy=%s params=%v", req.Service, req.Strategy, req.Parameters)
		writeJSON(w, map[string]any{"applied": true})
	})

	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
