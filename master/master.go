// this file deals with who is allowed to control playback
package master

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State identifies the device currently allowed to control playback.
// An empty Token means nobody has claimed it.
type State struct {
	Token    string
	Label    string
	Locked   bool
	LastSeen int64
}

// ClientInfo describes a connected device. It is informational only.
type ClientInfo struct {
	ID          string `json:"id"`
	SocketID    string `json:"socketId"`
	UserAgent   string `json:"userAgent,omitempty"`
	IP          string `json:"ip,omitempty"`
	ConnectedAt int64  `json:"connectedAt"`
	LastSeen    int64  `json:"lastSeen"`
}

// View is the read-only snapshot handed to callers. MasterToken is only
// filled in for the master itself.
type View struct {
	MasterToken  *string      `json:"masterToken"`
	MasterLabel  *string      `json:"masterLabel"`
	Claimed      bool         `json:"claimed"`
	Locked       bool         `json:"locked"`
	LastSeen     int64        `json:"lastSeen"`
	Connections  []ClientInfo `json:"connections"`
	YouAreMaster bool         `json:"youAreMaster"`
}

// Result is returned by claim, release, lock and unlock. Locked is set on
// a refusal caused by a lock held by someone else.
type Result struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Locked  bool   `json:"locked"`
}

type AuthResult struct {
	Allowed     bool
	NewToken    string
	MasterToken string
	Locked      bool
}

type Arbiter struct {
	mu      sync.Mutex
	master  State
	clients map[string]ClientInfo

	now       func() time.Time
	mintToken func() string
}

func NewArbiter() *Arbiter {
	return &Arbiter{
		clients:   make(map[string]ClientInfo),
		now:       time.Now,
		mintToken: newToken,
	}
}

func newToken() string {
	return "master-" + uuid.New().String()
}

func (a *Arbiter) stamp() int64 {
	return a.now().UnixNano() / int64(time.Millisecond)
}

// State returns a snapshot. YouAreMaster tells whether currentToken is
// the token of the current master.
func (a *Arbiter) State(currentToken string) View {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := View{
		Locked:       a.master.Locked,
		LastSeen:     a.master.LastSeen,
		Connections:  make([]ClientInfo, 0, len(a.clients)),
		YouAreMaster: currentToken != "" && currentToken == a.master.Token,
	}
	v.Claimed = a.master.Token != ""
	if v.YouAreMaster {
		token := a.master.Token
		v.MasterToken = &token
	}
	if a.master.Label != "" {
		label := a.master.Label
		v.MasterLabel = &label
	}
	for _, c := range a.clients {
		v.Connections = append(v.Connections, c)
	}
	sort.Slice(v.Connections, func(i, j int) bool {
		if v.Connections[i].ConnectedAt == v.Connections[j].ConnectedAt {
			return v.Connections[i].ID < v.Connections[j].ID
		}
		return v.Connections[i].ConnectedAt < v.Connections[j].ConnectedAt
	})
	return v
}

// Authorize decides whether the caller holding token may act as master.
// An unclaimed master is taken over by the caller, and anyone may act
// while the master is unlocked.
func (a *Arbiter) Authorize(token string) AuthResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.master.Token == "" {
		if token == "" {
			token = a.mintToken()
		}
		a.master.Token = token
		a.master.LastSeen = a.stamp()
		return AuthResult{Allowed: true, NewToken: token, MasterToken: token, Locked: a.master.Locked}
	}

	if !a.master.Locked {
		a.master.LastSeen = a.stamp()
		return AuthResult{Allowed: true, MasterToken: a.master.Token}
	}

	if token != a.master.Token {
		return AuthResult{Allowed: false, Locked: true}
	}
	a.master.LastSeen = a.stamp()
	return AuthResult{Allowed: true, MasterToken: a.master.Token, Locked: true}
}

// Claim makes the caller the master. It fails only when the master is
// locked by a different token.
func (a *Arbiter) Claim(token, label string, lock bool) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.master.Locked && token != a.master.Token {
		return Result{Success: false, Locked: true}
	}

	if token == "" {
		token = a.mintToken()
	}
	a.master = State{
		Token:    token,
		Label:    label,
		Locked:   lock,
		LastSeen: a.stamp(),
	}
	return Result{Success: true, Token: token, Locked: lock}
}

// Release resets the master to unclaimed. A non-empty token must match the
// holder. Without a token the release only succeeds while unlocked.
func (a *Arbiter) Release(token string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if token != "" && token != a.master.Token {
		return Result{Success: false, Locked: a.master.Locked}
	}
	if token == "" && a.master.Locked {
		return Result{Success: false, Locked: true}
	}
	a.master = State{}
	return Result{Success: true}
}

func (a *Arbiter) Lock(token string) Result {
	return a.setLocked(token, true)
}

func (a *Arbiter) Unlock(token string) Result {
	return a.setLocked(token, false)
}

func (a *Arbiter) setLocked(token string, locked bool) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if token == "" || token != a.master.Token {
		return Result{Success: false, Locked: a.master.Locked}
	}
	a.master.Locked = locked
	a.master.LastSeen = a.stamp()
	return Result{Success: true, Locked: locked}
}

// RegisterClient records a (re)connected device, keeping what is already
// known about it when the new values are empty.
func (a *Arbiter) RegisterClient(id, socketID, userAgent, ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.stamp()
	c, exists := a.clients[id]
	if !exists {
		c = ClientInfo{ID: id, ConnectedAt: now}
	}
	c.SocketID = socketID
	if userAgent != "" {
		c.UserAgent = userAgent
	}
	if ip != "" {
		c.IP = ip
	}
	c.LastSeen = now
	a.clients[id] = c
}

func (a *Arbiter) UpdateClient(id, socketID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.clients[id]
	if !ok {
		return
	}
	if socketID != "" {
		c.SocketID = socketID
	}
	c.LastSeen = a.stamp()
	a.clients[id] = c
}

func (a *Arbiter) UnregisterClient(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.clients, id)
}
