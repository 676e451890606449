package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/outreach/internal/account"
	"github.com/TobiSchelling/outreach/internal/database"
	"github.com/TobiSchelling/outreach/internal/discovery"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

var boardStatuses = []string{"cold", "contacted", "engaged", "qualified", "partnered", "revisit", "dnc"}

// Discoverer runs email discovery for one contact. *discovery.Engine
// satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, id int64) (*discovery.Outcome, error)
}

// Server is the admin HTTP surface over the account board.
type Server struct {
	db       *database.DB
	accounts *account.Manager
	disc     Discoverer
	pages    map[string]*template.Template
	router   chi.Router
}

// New creates a new Server. disc may be nil, in which case the discover
// route answers 503.
func New(db *database.DB, accounts *account.Manager, disc Discoverer) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatDate": database.FormatDateDisplay,
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so "title" and "content" do not
	// collide between pages.
	pageNames := []string{"index.html", "contact.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, accounts: accounts, disc: disc, pages: pages}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	r.Get("/", s.handleBoard)
	r.Get("/contacts/{id}", s.handleContact)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Route("/contacts/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetContact)
			r.Post("/status", s.handleTransition)
			r.Post("/dnc", s.handleDNC)
			r.Post("/discover", s.handleDiscover)
		})
		r.Post("/events/{event}", s.handleEvent)
	})
	s.router = r
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("status")
	if filter != "" {
		if _, err := account.ParseStatus(filter); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	stats, err := s.db.GetBoardStats(database.GetToday())
	if err != nil {
		log.Printf("Error loading board stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	contacts, err := s.db.ListContacts(filter, 200)
	if err != nil {
		log.Printf("Error listing contacts: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Statuses": boardStatuses,
		"Stats":    stats,
		"Contacts": contacts,
		"Filter":   filter,
	})
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}
	touches, _ := s.db.ListTouches(c.ID)
	signals, _ := s.db.ListSignalsForContact(c.ID)
	entries, _ := s.db.GetDiscoveryLog(c.ID)

	s.render(w, "contact.html", map[string]any{
		"Statuses": boardStatuses,
		"Contact":  c,
		"Allowed":  account.Allowed(account.Status(c.AccountStatus)),
		"Touches":  touches,
		"Signals":  signals,
		"Log":      entries,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetBoardStats(database.GetToday())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		Total:            stats.Total,
		ByStatus:         stats.ByStatus,
		ByEmailStatus:    stats.ByEmailStatus,
		AvgConfidence:    stats.AvgConfidence,
		HighConfidence:   stats.HighConfidence,
		MediumConfidence: stats.MediumConfidence,
		LowConfidence:    stats.LowConfidence,
		ProbesToday:      stats.ProbesToday,
	})
}

type statsView struct {
	Total            int                `json:"total"`
	ByStatus         map[string]int     `json:"by_status"`
	ByEmailStatus    map[string]int     `json:"by_email_status"`
	AvgConfidence    map[string]float64 `json:"avg_confidence"`
	HighConfidence   int                `json:"high_confidence"`
	MediumConfidence int                `json:"medium_confidence"`
	LowConfidence    int                `json:"low_confidence"`
	ProbesToday      int                `json:"probes_today"`
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c, ok := s.loadContact(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newContactView(c))
}

type transitionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, err := account.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.accounts.TransitionStatus(r.Context(), id, to, req.Notes)
	s.writeTransition(w, res, err)
}

func (s *Server) handleDNC(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	res, err := s.accounts.MarkDNC(r.Context(), id, req.Reason)
	s.writeTransition(w, res, err)
}

type transitionView struct {
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped,omitempty"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) writeTransition(w http.ResponseWriter, res *account.TransitionResult, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	view := transitionView{
		Success:   res.Success,
		Skipped:   res.Skipped,
		OldStatus: string(res.OldStatus),
		NewStatus: string(res.NewStatus),
	}
	code := http.StatusOK
	if res.Err != nil {
		view.Error = res.Err.Error()
		switch {
		case errors.Is(res.Err, account.ErrContactNotFound):
			code = http.StatusNotFound
		case errors.Is(res.Err, account.ErrPermanentDNC), errors.Is(res.Err, account.ErrInvalidTransition):
			code = http.StatusConflict
		default:
			code = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, code, view)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	if s.disc == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("discovery is not configured"))
		return
	}

	out, err := s.disc.Discover(r.Context(), id)
	switch {
	case errors.Is(err, discovery.ErrContactNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"email":  out.Email,
			"status": out.Status,
			"source": out.Source,
		})
	}
}

type eventRequest struct {
	ContactID int64  `json:"contact_id"`
	BundleID  int64  `json:"bundle_id"`
	Sentiment string `json:"sentiment"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ContactID <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("contact_id is required"))
		return
	}
	c, err := s.db.GetContact(req.ContactID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, account.ErrContactNotFound)
		return
	}

	ctx := r.Context()
	switch event := chi.URLParam(r, "event"); event {
	case "sent":
		err = s.accounts.OnEmailSent(ctx, req.ContactID, req.BundleID)
	case "opened":
		err = s.accounts.OnEmailOpened(ctx, req.ContactID, req.BundleID)
	case "reply":
		err = s.accounts.OnReplyReceived(ctx, req.ContactID, account.ParseSentiment(req.Sentiment), req.BundleID)
	case "followup-exhausted":
		err = s.accounts.OnFollowupExhausted(ctx, req.ContactID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown event %q", event))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	updated, err := s.db.GetContact(req.ContactID)
	if err != nil || updated == nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("reloading contact #%d: %v", req.ContactID, err))
		return
	}
	writeJSON(w, http.StatusOK, newContactView(updated))
}

type contactView struct {
	ID              int64    `json:"id"`
	CompanyName     string   `json:"company_name"`
	ContactName     string   `json:"contact_name,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	Email           string   `json:"email,omitempty"`
	EmailStatus     string   `json:"email_status"`
	AccountStatus   string   `json:"account_status"`
	ConfidenceScore int      `json:"confidence_score"`
	Tier            string   `json:"tier"`
	NextAction      string   `json:"next_action,omitempty"`
	NextActionDate  string   `json:"next_action_date,omitempty"`
	LastTouchDate   string   `json:"last_touch_date,omitempty"`
	Allowed         []string `json:"allowed_transitions"`
}

func newContactView(c *database.Contact) contactView {
	allowed := []string{}
	for _, st := range account.Allowed(account.Status(c.AccountStatus)) {
		allowed = append(allowed, string(st))
	}
	return contactView{
		ID:              c.ID,
		CompanyName:     c.CompanyName,
		ContactName:     c.ContactName,
		Domain:          c.Domain,
		Email:           c.DiscoveredEmail,
		EmailStatus:     c.EmailStatus,
		AccountStatus:   c.AccountStatus,
		ConfidenceScore: c.ConfidenceScore,
		Tier:            c.Tier,
		NextAction:      c.NextAction,
		NextActionDate:  c.NextActionDate,
		LastTouchDate:   c.LastTouchDate,
		Allowed:         allowed,
	}
}

func (s *Server) loadContact(w http.ResponseWriter, r *http.Request) (*database.Contact, bool) {
	id, ok := contactID(w, r)
	if !ok {
		return nil, false
	}
	c, err := s.db.GetContact(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if c == nil {
		writeError(w, http.StatusNotFound, account.ErrContactNotFound)
		return nil, false
	}
	return c, true
}

func contactID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid contact id %q", chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on 127.0.0.1:port until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, s *Server, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Printf("Server listening on http://%s", srv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
