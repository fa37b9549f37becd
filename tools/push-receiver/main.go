// Command push-receiver is a stand-in push gateway for local runs and
// load tests. It accepts POST /send, checks the request signature when
// SIGNING_SECRET is set, and answers UNREGISTERED for tokens listed in
// REVOKED_TOKENS.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const signatureHeader = "X-Pushcron-Signature"

type sendRequest struct {
	Token        string `json:"token"`
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Data map[string]string `json:"data,omitempty"`
}

type received struct {
	Timestamp string `json:"timestamp"`
	Token     string `json:"token"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	URL       string `json:"url,omitempty"`
	Outcome   string `json:"outcome"`
}

type stats struct {
	Sent         int64      `json:"sent"`
	Rejected     int64      `json:"rejected"`
	BadSignature int64      `json:"badSignature"`
	Last         []received `json:"last"`
	Since        string     `json:"since"`
}

type receiver struct {
	secret  string
	revoked map[string]bool

	mu    sync.Mutex
	stats stats
	since time.Time
}

const maxStored = 50

func main() {
	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	r := &receiver{
		secret:  os.Getenv("SIGNING_SECRET"),
		revoked: make(map[string]bool),
		since:   time.Now().UTC(),
	}
	for _, tok := range strings.Split(os.Getenv("REVOKED_TOKENS"), ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			r.revoked[tok] = true
		}
	}

	http.HandleFunc("/send", r.send)
	http.HandleFunc("/stats", r.statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		r.mu.Lock()
		r.stats = stats{}
		r.since = time.Now().UTC()
		r.mu.Unlock()
		fmt.Fprintln(w, "reset")
	})

	log.Printf("push-receiver listening on %s (signed=%t, revoked=%d)", addr, r.secret != "", len(r.revoked))
	log.Fatal(http.ListenAndServe(addr, nil))
}

func (r *receiver) send(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "unreadable body")
		return
	}

	if r.secret != "" && !validSignature(r.secret, body, req.Header.Get(signatureHeader)) {
		r.mu.Lock()
		r.stats.BadSignature++
		r.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "signature mismatch")
		return
	}

	var in sendRequest
	if err := json.Unmarshal(body, &in); err != nil || in.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "token is required")
		return
	}

	rec := received{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Token:     in.Token,
		Title:     in.Notification.Title,
		Body:      in.Notification.Body,
		URL:       in.Data["url"],
		Outcome:   "sent",
	}
	if r.revoked[in.Token] {
		rec.Outcome = "unregistered"
	}

	r.mu.Lock()
	if rec.Outcome == "sent" {
		r.stats.Sent++
	} else {
		r.stats.Rejected++
	}
	r.stats.Last = append(r.stats.Last, rec)
	if len(r.stats.Last) > maxStored {
		r.stats.Last = r.stats.Last[len(r.stats.Last)-maxStored:]
	}
	n := r.stats.Sent
	r.mu.Unlock()

	if rec.Outcome != "sent" {
		log.Printf("rejected revoked token %s", in.Token)
		writeError(w, http.StatusNotFound, "UNREGISTERED", "requested entity was not found")
		return
	}

	log.Printf("send #%d to %s: %q", n, in.Token, in.Notification.Title)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"messageId": fmt.Sprintf("local-%d", n)})
}

func (r *receiver) statsHandler(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	s := r.stats
	s.Last = append([]received(nil), r.stats.Last...)
	s.Since = r.since.Format(time.RFC3339)
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func validSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

func writeError(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "status": status, "message": message},
	})
}
