// Package heartbeat proves node liveness to the staking authority and
// watches the chain scanner for stalls.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/internal/report"
	"github.com/Klingon-tech/klingnet-staker/internal/wallet"
)

// Defaults.
const (
	DefaultInterval       = 30 * time.Second
	DefaultStaleThreshold = 3 * time.Minute
	DefaultRequestTimeout = 10 * time.Second
)

// Keepalive request headers.
const (
	HeaderPubKey     = "X-Klingnet-PubKey"
	HeaderTimestamp  = "X-Klingnet-Timestamp"
	HeaderSignature  = "X-Klingnet-Signature"
	HeaderColdWallet = "X-Klingnet-Cold-Wallet"
	HeaderChallenge  = "X-Klingnet-Challenge"
)

// MessageStakingDisabled is the outcome message for a node without a
// staking identity.
const MessageStakingDisabled = "staking disabled"

const maxResponseSize = 64 << 10

// BlockSource exposes the worker's progress.
type BlockSource interface {
	CurrentBlock() uint64
}

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures an Engine.
type Config struct {
	Host           string // staking authority base URL
	Challenge      string // optional, bound into every signature
	Version        string // reported in the payload
	Identity       *wallet.Identity
	Source         BlockSource
	Client         Doer
	Clock          clock.Clock
	Reporter       report.Reporter
	Metrics        *Metrics
	Interval       time.Duration
	StaleThreshold time.Duration
	RequestTimeout time.Duration
	StatusFile     string // heartbeat.json; empty disables
	DowntimeFile   string // downtime.log; empty disables
}

// Payload is the keepalive request body.
type Payload struct {
	Version     string `json:"version"`
	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   int64  `json:"timestamp"`
}

// Engine runs heartbeat ticks.
type Engine struct {
	cfg Config

	tickMu sync.Mutex // serializes ticks
	mu     sync.RWMutex
	state  State

	statusMu sync.Mutex // guards stopped and the status file
	stopped  bool
}

// New creates an engine, filling unset fields with defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("heartbeat: block source is required")
	}
	if cfg.Identity.Staking() && cfg.Host == "" {
		return nil, errors.New("heartbeat: staking host is required")
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = report.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Engine{cfg: cfg}, nil
}

// Run ticks immediately and then every Interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.cfg.Clock.Ticker(e.cfg.Interval)
	defer ticker.Stop()

	log.Heartbeat.Info().
		Dur("interval", e.cfg.Interval).
		Bool("staking", e.cfg.Identity.Staking()).
		Msg("Heartbeat started")

	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Heartbeat.Info().Msg("Heartbeat stopped")
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one heartbeat. It never fails; problems are logged, reported
// and reflected in the returned outcome.
func (e *Engine) Tick(ctx context.Context) Outcome {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.cfg.Clock.Now()
	block := e.cfg.Source.CurrentBlock()

	var out Outcome
	if !e.cfg.Identity.Staking() {
		out = Outcome{Message: MessageStakingDisabled, Online: true}
		log.Heartbeat.Debug().Uint64("block", block).Msg("No staking identity, skipping keepalive")
	} else {
		out = e.send(ctx, now, block)
	}
	out.Timestamp = now.UnixMilli()
	out.Block = block

	e.mu.Lock()
	if out.Online {
		e.state.HasBeenOnline = true
	}
	e.state.LastStatus = out.Status
	e.state.LastMessage = out.Message
	e.state.LastOnline = out.Online
	e.state.LastTickAt = now
	e.state.Ticks++
	downtime := e.state.observe(now, block, e.cfg.StaleThreshold)
	snap := e.state
	e.mu.Unlock()

	e.cfg.Metrics.observeTick(out, snap.Stale, e.cfg.Identity.Staking())

	if downtime {
		e.recordDowntime(now, snap)
	}
	if err := e.writeStatus(out); err != nil {
		log.Heartbeat.Error().Err(err).Msg("Failed to write status file")
		e.cfg.Reporter.Report(err, "heartbeat-status")
	}
	return out
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// send signs and posts one keepalive.
func (e *Engine) send(ctx context.Context, now time.Time, block uint64) Outcome {
	payload := Payload{
		Version:     e.cfg.Version,
		BlockNumber: block,
		Timestamp:   now.UnixMilli(),
	}
	req, err := e.newRequest(ctx, payload)
	if err != nil {
		return e.offline(0, err)
	}

	ctx, cancel := context.WithTimeout(req.Context(), e.cfg.RequestTimeout)
	defer cancel()
	resp, err := e.cfg.Client.Do(req.WithContext(ctx))
	if err != nil {
		return e.offline(0, fmt.Errorf("keepalive request: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	var reply struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &reply)

	if resp.StatusCode != http.StatusOK {
		msg := reply.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		log.Heartbeat.Warn().
			Int("status", resp.StatusCode).
			Str("message", msg).
			Uint64("block", block).
			Msg("Keepalive rejected, node offline")
		return Outcome{Status: resp.StatusCode, Message: msg}
	}

	log.Heartbeat.Debug().Uint64("block", block).Msg("Keepalive accepted")
	return Outcome{Status: resp.StatusCode, Message: reply.Message, Online: true}
}

func (e *Engine) offline(status int, err error) Outcome {
	log.Heartbeat.Warn().Err(err).Msg("Keepalive failed, node offline")
	e.cfg.Reporter.Report(err, "heartbeat")
	return Outcome{Status: status, Message: err.Error()}
}

// newRequest builds the signed POST {host}/keepalive request.
func (e *Engine) newRequest(ctx context.Context, p Payload) (*http.Request, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	ts := strconv.FormatInt(p.Timestamp, 10)
	id := e.cfg.Identity
	sig, err := id.Hot.SignMessage(SigningBytes(ts, body, e.cfg.Challenge))
	if err != nil {
		return nil, fmt.Errorf("sign keepalive: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/keepalive", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build keepalive request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderPubKey, hex.EncodeToString(id.Hot.PublicKey()))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	req.Header.Set(HeaderColdWallet, id.ColdWallet.String())
	if e.cfg.Challenge != "" {
		req.Header.Set(HeaderChallenge, e.cfg.Challenge)
	}
	return req, nil
}

// SigningBytes is the canonical message a keepalive signature covers:
// timestamp "\n" body "\n" challenge.
func SigningBytes(timestamp string, body []byte, challenge string) []byte {
	msg := make([]byte, 0, len(timestamp)+len(body)+len(challenge)+2)
	msg = append(msg, timestamp...)
	msg = append(msg, '\n')
	msg = append(msg, body...)
	msg = append(msg, '\n')
	return append(msg, challenge...)
}

// recordDowntime appends one line to the downtime log.
func (e *Engine) recordDowntime(now time.Time, s State) {
	e.cfg.Metrics.downtime.Inc()
	log.Heartbeat.Error().
		Uint64("block", s.LastBlock).
		Dur("stale", s.Stale).
		Time("last_advance", s.LastBlockAt).
		Msg("Scanner stalled")

	if e.cfg.DowntimeFile == "" {
		return
	}
	line := fmt.Sprintf("%s stale for %s since block %d last advanced at %s\n",
		now.UTC().Format(time.RFC3339), s.Stale.Round(time.Second), s.LastBlock, s.LastBlockAt.UTC().Format(time.RFC3339))

	f, err := os.OpenFile(e.cfg.DowntimeFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err == nil {
		_, err = f.WriteString(line)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		log.Heartbeat.Error().Err(err).Str("file", e.cfg.DowntimeFile).Msg("Failed to append downtime record")
		e.cfg.Reporter.Report(err, "heartbeat-downtime")
	}
}

// writeStatus atomically replaces the status file with out.
// Nothing is written once the engine is stopped.
func (e *Engine) writeStatus(out Outcome) error {
	if e.cfg.StatusFile == "" {
		return nil
	}
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if e.stopped {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(e.cfg.StatusFile), ".heartbeat-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), e.cfg.StatusFile); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// RemoveStatusFile deletes the status file. A missing file is not an error.
func (e *Engine) RemoveStatusFile() error {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return RemoveStatusFile(e.cfg.StatusFile)
}

// Stop removes the status file and keeps ticks still in flight from
// writing it again. It does not wait for those ticks to finish.
func (e *Engine) Stop() error {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.stopped = true
	return RemoveStatusFile(e.cfg.StatusFile)
}

// RemoveStatusFile deletes path. A missing file or empty path is not an error.
func RemoveStatusFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReadStatusFile loads the last outcome written to path.
func ReadStatusFile(path string) (*Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &out, nil
}
