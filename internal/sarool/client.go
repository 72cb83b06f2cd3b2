// Package sarool is a client for the Sarool driving-school API.
//
// Authentication happens once (POST /Peripherique) and yields a PK/UK token
// pair that every other call sends as request headers. The pair is
// write-once for the lifetime of a Client.
package sarool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"saroolsync/internal/civil"
	appLog "saroolsync/internal/log"
	"saroolsync/internal/telemetry"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.sarool.fr"
	// DefaultTimeout bounds each HTTP request.
	DefaultTimeout = 15 * time.Second
	// DefaultDeviceLabel is the Descriptif sent when none is configured.
	DefaultDeviceLabel = "saroolsync"

	maxErrorBody = 4 << 10
)

// Endpoint names, also used as Error.Op and telemetry labels.
const (
	opAuthenticate = "Peripherique"
	opStudentInfo  = "F1"
	opRecap        = "F2"
	opSchedule     = "F3"
	opUserData     = "Utilisateur/Donnees"
)

// Options configures a Client.
type Options struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Timeout applies when HTTPClient is nil. Defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the underlying client.
	HTTPClient *http.Client
	// Metrics may be nil.
	Metrics *telemetry.Instruments
}

// Client talks to one Sarool account.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *telemetry.Instruments
	creds   atomic.Pointer[Credentials]
}

// New constructs a Client without credentials.
func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		http:    hc,
		metrics: opts.Metrics,
	}
}

// SetCredentials installs a pre-issued pair. Installing the pair already in
// place is a no-op; replacing it with a different one is refused.
func (c *Client) SetCredentials(creds Credentials) error {
	if !creds.Valid() {
		return newError(KindConfiguration, "", 0, "credentials must contain both PK and UK", nil)
	}
	stored := creds
	if c.creds.CompareAndSwap(nil, &stored) {
		return nil
	}
	if cur := c.creds.Load(); cur != nil && *cur == creds {
		return nil
	}
	return newError(KindConfiguration, "", 0, "credentials already set", nil)
}

// Credentials returns the installed pair, if any.
func (c *Client) Credentials() (Credentials, bool) {
	cur := c.creds.Load()
	if cur == nil {
		return Credentials{}, false
	}
	return *cur, true
}

// Authenticate registers this device and stores the returned pair.
func (c *Client) Authenticate(ctx context.Context, username, password, deviceLabel string) (Credentials, error) {
	if strings.TrimSpace(deviceLabel) == "" {
		deviceLabel = DefaultDeviceLabel
	}
	payload, err := json.Marshal(authRequest{
		Identifiant: username,
		MotDePasse:  password,
		Descriptif:  deviceLabel,
		PushToken:   nil,
	})
	if err != nil {
		return Credentials{}, newError(KindAPI, opAuthenticate, 0, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Peripherique", bytes.NewReader(payload))
	if err != nil {
		return Credentials{}, newError(KindConfiguration, opAuthenticate, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, opAuthenticate)
	if err != nil {
		return Credentials{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var creds Credentials
		if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
			return Credentials{}, c.fail(opAuthenticate, newError(KindAPI, opAuthenticate, resp.StatusCode, "decode response", err))
		}
		if !creds.Valid() {
			return Credentials{}, c.fail(opAuthenticate, newError(KindAPI, opAuthenticate, resp.StatusCode, "response is missing PK or UK", nil))
		}
		if err := c.SetCredentials(creds); err != nil {
			return Credentials{}, err
		}
		appLog.Info("sarool authentication succeeded", "device", deviceLabel)
		return creds, nil
	case http.StatusNotFound:
		return Credentials{}, c.fail(opAuthenticate, newError(KindAuthentication, opAuthenticate, resp.StatusCode, "bad credentials", nil))
	case http.StatusUnauthorized:
		return Credentials{}, c.fail(opAuthenticate, newError(KindAuthentication, opAuthenticate, resp.StatusCode, "account locked", nil))
	default:
		return Credentials{}, c.fail(opAuthenticate, unexpectedStatus(opAuthenticate, resp))
	}
}

// StudentInfo fetches F1.
func (c *Client) StudentInfo(ctx context.Context) (StudentInfo, error) {
	var out StudentInfo
	err := c.getJSON(ctx, opStudentInfo, "/F1", nil, nil, &out)
	return out, err
}

// FinancialRecap fetches F2.
func (c *Client) FinancialRecap(ctx context.Context) (FinancialRecap, error) {
	var out FinancialRecap
	err := c.getJSON(ctx, opRecap, "/F2", nil, nil, &out)
	return out, err
}

// Schedule fetches F3 for [from, to].
func (c *Client) Schedule(ctx context.Context, from, to time.Time) (Schedule, error) {
	q := url.Values{}
	q.Set("du", civil.Format(from))
	q.Set("au", civil.Format(to))

	statuses := map[int]*Error{
		http.StatusNotFound:            newError(KindInvalidRequest, opSchedule, http.StatusNotFound, "student record not found", nil),
		http.StatusPreconditionFailed:  newError(KindInvalidRequest, opSchedule, http.StatusPreconditionFailed, "invalid date range", nil),
		http.StatusUnprocessableEntity: newError(KindInvalidRequest, opSchedule, http.StatusUnprocessableEntity, "invalid date range", nil),
	}

	var out Schedule
	err := c.getJSON(ctx, opSchedule, "/F3", q, statuses, &out)
	return out, err
}

// UserData fetches Utilisateur/Donnees.
func (c *Client) UserData(ctx context.Context, flags UserDataFlags) (UserData, error) {
	q := url.Values{}
	q.Set("avecPersistant", strconv.FormatBool(flags.WithPersistent))
	q.Set("avecInfoEleve", strconv.FormatBool(flags.WithInfo))
	q.Set("avecRecapEleve", strconv.FormatBool(flags.WithRecap))
	q.Set("avecFichierEleve", strconv.FormatBool(flags.WithFiles))

	var out UserData
	err := c.getJSON(ctx, opUserData, "/Utilisateur/Donnees", q, nil, &out)
	return out, err
}

// getJSON performs an authenticated GET and decodes a 200 body into out.
// extra maps endpoint-specific statuses to errors.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, extra map[int]*Error, out any) error {
	creds, ok := c.Credentials()
	if !ok {
		return newError(KindConfiguration, op, 0, "no credentials set", nil)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return newError(KindConfiguration, op, 0, "build request", err)
	}
	// Sent verbatim; Set would canonicalize them to Pk/Uk.
	req.Header["PK"] = []string{creds.PK}
	req.Header["UK"] = []string{creds.UK}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return c.fail(op, newError(KindAPI, op, resp.StatusCode, "decode response", err))
		}
		return nil
	case http.StatusUnauthorized:
		return c.fail(op, newError(KindAuthentication, op, resp.StatusCode, "authentication failed", nil))
	}
	if e, ok := extra[resp.StatusCode]; ok {
		return c.fail(op, e)
	}
	return c.fail(op, unexpectedStatus(op, resp))
}

// do sends req, mapping transport failures to KindConnection and recording
// latency for successful round trips.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	start := time.Now()
	appLog.Debug("sarool request", "op", op, "method", req.Method)

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordRemote(req.Context(), op, string(KindConnection), time.Since(start))
		return nil, newError(KindConnection, op, 0, "request failed", err)
	}

	outcome := "ok"
	if resp.StatusCode >= 300 {
		outcome = "status_" + strconv.Itoa(resp.StatusCode)
	}
	c.metrics.RecordRemote(req.Context(), op, outcome, time.Since(start))
	appLog.Debug("sarool response", "op", op, "status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}

func (c *Client) fail(op string, err *Error) error {
	appLog.Debug("sarool call failed", "op", op, "kind", string(err.Kind), "status", err.Status)
	return err
}

func unexpectedStatus(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := "unexpected status"
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		msg += ": " + trimmed
	}
	return newError(KindAPI, op, resp.StatusCode, msg, nil)
}

// IsRetryable reports whether err is worth retrying: transport failures and
// unexpected server statuses, not configuration or authentication problems.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindConnection:
		return true
	case KindAPI:
		var e *Error
		if errors.As(err, &e) {
			return e.Status == 0 || e.Status >= 500 || e.Status == http.StatusTooManyRequests
		}
	}
	return false
}
