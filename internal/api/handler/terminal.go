package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/creack/pty"
	"github.com/rs/zerolog"

	"github.com/pds/homelab/internal/api/request"
	"github.com/pds/homelab/internal/api/response"
	"github.com/pds/homelab/internal/platform"
)

// tokenTTL is how long a minted terminal token stays valid. Tokens are
// single-use; the browser exchanges the admin password for one and opens the
// websocket immediately.
const tokenTTL = 60 * time.Second

// Terminal serves a local shell over websocket for the panel's terminal
// page. The shell runs as the panel's own user on the panel host.
type Terminal struct {
	shell        string
	passwordHash string
	logger       zerolog.Logger

	mu     sync.Mutex
	tokens map[string]time.Time
}

func NewTerminal(shell, passwordHash string, logger zerolog.Logger) *Terminal {
	return &Terminal{
		shell:        shell,
		passwordHash: passwordHash,
		logger:       logger.With().Str("component", "terminal").Logger(),
		tokens:       make(map[string]time.Time),
	}
}

// resizeMsg is a control message sent by the client to resize the terminal.
type resizeMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// CreateToken exchanges the admin password for a short-lived websocket
// token. WebSocket clients cannot set custom headers, so the token travels
// as a query parameter instead.
func (h *Terminal) CreateToken(w http.ResponseWriter, r *http.Request) {
	if h.passwordHash == "" {
		response.WriteError(w, http.StatusServiceUnavailable, "terminal is not configured")
		return
	}

	var req request.TerminalToken
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !platform.VerifyPassword(req.Password, h.passwordHash) {
		response.WriteError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		response.WriteError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	token := hex.EncodeToString(buf)

	h.mu.Lock()
	h.pruneLocked()
	h.tokens[token] = time.Now().Add(tokenTTL)
	h.mu.Unlock()

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
	})
}

// consumeToken validates and burns a token.
func (h *Terminal) consumeToken(token string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()

	expiry, ok := h.tokens[token]
	if !ok {
		return false
	}
	delete(h.tokens, token)
	return time.Now().Before(expiry)
}

func (h *Terminal) pruneLocked() {
	now := time.Now()
	for t, expiry := range h.tokens {
		if now.After(expiry) {
			delete(h.tokens, t)
		}
	}
}

// Connect upgrades to WebSocket and bridges it to a local shell pty.
func (h *Terminal) Connect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || !h.consumeToken(token) {
		response.WriteError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Origin differs from Host behind the reverse proxy.
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	cmd := exec.Command(h.shell)
	cmd.Env = append(cmd.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		h.logger.Error().Err(err).Str("shell", h.shell).Msg("pty start failed")
		ws.Close(websocket.StatusInternalError, "shell start failed")
		return
	}
	defer func() {
		ptmx.Close()
		cmd.Process.Kill()
		cmd.Wait()
	}()

	h.logger.Info().Int("pid", cmd.Process.Pid).Msg("terminal session started")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// pty -> WebSocket (binary).
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				if writeErr := ws.Write(ctx, websocket.MessageBinary, buf[:n]); writeErr != nil {
					cancel()
					return
				}
			}
			if err != nil {
				ws.Close(websocket.StatusNormalClosure, "shell exited")
				cancel()
				return
			}
		}
	}()

	// WebSocket -> pty. Text messages are control messages (resize).
	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			break
		}

		switch msgType {
		case websocket.MessageBinary:
			if _, err := ptmx.Write(data); err != nil {
				cancel()
				return
			}
		case websocket.MessageText:
			var msg resizeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				pty.Setsize(ptmx, &pty.Winsize{
					Rows: uint16(msg.Rows),
					Cols: uint16(msg.Cols),
				})
			}
		}
	}

	h.logger.Info().Msg("terminal session closed")
}
