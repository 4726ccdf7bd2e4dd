// Package command implements the operator control surface: parsing of a
// fixed command vocabulary (/pause, /resume, /status, /autocoins,
// /symbols, /risk, /flat, /selftest, /mode, /size, /lev) and a polling
// Source the orchestrator drains each loop tick. A chat bot's getUpdates
// long-poll is the natural originating shape for this; this engine
// exposes the same shape over a small gin HTTP surface instead, since no
// chat transport is in scope here.
package command

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"perpengine/logx"
)

// Name enumerates the recognised commands.
type Name string

const (
	Pause     Name = "pause"
	Resume    Name = "resume"
	Status    Name = "status"
	AutoCoins Name = "autocoins"
	Symbols   Name = "symbols"
	Risk      Name = "risk"
	Flat      Name = "flat"
	SelfTest  Name = "selftest"
	Mode      Name = "mode"
	Size      Name = "size"
	Lev       Name = "lev"
)

// Command is one parsed operator instruction, tagged with a correlation
// ID for log tracing across the dispatch.
type Command struct {
	ID      string
	Name    Name
	Args    []string
	AdminID string
}

// Source is anything the orchestrator can drain pending commands from.
type Source interface {
	Poll() []Command
}

// Parse turns raw text (already lower-cased, trimmed) plus the admin id
// that sent it into a Command, or reports ok=false for unrecognised text.
func Parse(text, adminID string) (Command, bool) {
	text = strings.TrimSpace(strings.ToLower(text))
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, false
	}

	mk := func(n Name, args []string) (Command, bool) {
		return Command{ID: uuid.NewString(), Name: n, Args: args, AdminID: adminID}, true
	}

	switch fields[0] {
	case "/pause":
		return mk(Pause, nil)
	case "/resume":
		return mk(Resume, nil)
	case "/status":
		return mk(Status, nil)
	case "/autocoins":
		return mk(AutoCoins, nil)
	case "/symbols":
		return mk(Symbols, nil)
	case "/risk":
		return mk(Risk, nil)
	case "/flat":
		return mk(Flat, nil)
	case "/selftest":
		return mk(SelfTest, nil)
	case "/mode":
		if len(fields) < 2 || (fields[1] != "simple" && fields[1] != "advanced") {
			return Command{}, false
		}
		return mk(Mode, []string{fields[1]})
	case "/size":
		if len(fields) < 2 {
			return Command{}, false
		}
		if _, err := strconv.ParseFloat(fields[1], 64); err != nil {
			return Command{}, false
		}
		return mk(Size, []string{fields[1]})
	case "/lev":
		if len(fields) < 2 {
			return Command{}, false
		}
		if _, err := strconv.Atoi(fields[1]); err != nil {
			return Command{}, false
		}
		return mk(Lev, []string{fields[1]})
	default:
		return Command{}, false
	}
}

// IsAdmin compares the sender id against the configured admin id,
// case-insensitively, for a single-operator deployment.
func IsAdmin(senderID, adminID string) bool {
	return strings.EqualFold(strings.TrimSpace(senderID), strings.TrimSpace(adminID))
}

// HTTPSource is a gin-backed queue: an operator tool POSTs text commands
// to /command, authenticated by a shared admin id field, and the
// orchestrator drains them on each command-loop tick via Poll.
type HTTPSource struct {
	adminID string
	log     *logx.Logger

	mu    sync.Mutex
	queue []Command

	engine *gin.Engine
}

// NewHTTPSource builds an HTTPSource that only accepts commands whose
// admin_id field matches adminID.
func NewHTTPSource(adminID string) *HTTPSource {
	s := &HTTPSource{adminID: adminID, log: logx.New("command")}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/command", s.handlePost)
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	s.engine = r
	return s
}

// Run serves the command surface on addr until the process exits. The
// engine's main starts this in its own goroutine.
func (s *HTTPSource) Run(addr string) error {
	s.log.Infof("command surface listening on %s", addr)
	if err := s.engine.Run(addr); err != nil {
		return fmt.Errorf("command: serve: %w", err)
	}
	return nil
}

type postBody struct {
	Text    string `json:"text" binding:"required"`
	AdminID string `json:"admin_id" binding:"required"`
}

func (s *HTTPSource) handlePost(c *gin.Context) {
	var body postBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !IsAdmin(body.AdminID, s.adminID) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	cmd, ok := Parse(body.Text, body.AdminID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognised command"})
		return
	}

	s.mu.Lock()
	s.queue = append(s.queue, cmd)
	s.mu.Unlock()

	c.JSON(http.StatusAccepted, gin.H{"id": cmd.ID, "command": cmd.Name})
}

// Poll drains and returns all commands queued since the last call.
func (s *HTTPSource) Poll() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	out := s.queue
	s.queue = nil
	return out
}
