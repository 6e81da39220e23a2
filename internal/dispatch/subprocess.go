package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexus-io/nexus-router/internal/canonicaljson"
	"github.com/nexus-io/nexus-router/internal/config"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxCaptureChars = 200_000

	adapterIDHashLen = 6
)

// ErrEmptyBaseCmd is returned when a subprocess adapter is created without a
// command.
var ErrEmptyBaseCmd = errors.New("base command must not be empty")

// Compile-time interface assertion.
var _ Adapter = (*SubprocessAdapter)(nil)

type (
	// SubprocessAdapter calls external commands. It executes tool calls by
	// invoking a base command with:
	//
	//	<base_cmd...> call <tool> <method> --json-args-file <path>
	//
	// The external command must read the JSON payload {tool, method, args}
	// from the file, write a single JSON object to stdout, and exit 0.
	// Any non-zero exit, malformed output, or non-object output is an
	// operational failure, never a bug: external commands are expected to
	// misbehave.
	//
	// The payload file is scoped to a single call and removed on every exit
	// path, including timeouts and spawn failures.
	SubprocessAdapter struct {
		baseCmd         []string
		adapterID       string
		timeout         time.Duration
		cwd             string
		env             map[string]string
		maxCaptureChars int
		limiter         *rate.Limiter
		logger          *slog.Logger
	}

	// SubprocessOption configures optional SubprocessAdapter behavior.
	SubprocessOption func(*SubprocessAdapter)
)

// WithAdapterID overrides the derived adapter ID.
func WithAdapterID(adapterID string) SubprocessOption {
	return func(a *SubprocessAdapter) {
		a.adapterID = adapterID
	}
}

// WithTimeout sets the wall-clock timeout for each subprocess execution.
func WithTimeout(timeout time.Duration) SubprocessOption {
	return func(a *SubprocessAdapter) {
		a.timeout = timeout
	}
}

// WithWorkDir sets the working directory for the subprocess.
func WithWorkDir(cwd string) SubprocessOption {
	return func(a *SubprocessAdapter) {
		a.cwd = cwd
	}
}

// WithEnv sets environment variables merged over the ambient environment.
func WithEnv(env map[string]string) SubprocessOption {
	return func(a *SubprocessAdapter) {
		a.env = env
	}
}

// WithCaptureLimit caps captured stdout/stderr used for log diagnostics.
// Parsing always uses the full, untruncated stdout.
func WithCaptureLimit(maxChars int) SubprocessOption {
	return func(a *SubprocessAdapter) {
		a.maxCaptureChars = maxChars
	}
}

// WithRateLimit installs a token-bucket limit on subprocess spawns. Calls
// block until a token is available, counting against the call timeout.
func WithRateLimit(limiter *rate.Limiter) SubprocessOption {
	return func(a *SubprocessAdapter) {
		a.limiter = limiter
	}
}

// NewSubprocessAdapter creates an adapter for the given base command, e.g.
// []string{"python", "-m", "my_tool.cli"}. Returns ErrEmptyBaseCmd when
// baseCmd is empty.
func NewSubprocessAdapter(baseCmd []string, opts ...SubprocessOption) (*SubprocessAdapter, error) {
	if len(baseCmd) == 0 {
		return nil, ErrEmptyBaseCmd
	}

	adapter := &SubprocessAdapter{
		baseCmd:         append([]string(nil), baseCmd...),
		timeout:         defaultTimeout,
		maxCaptureChars: defaultMaxCaptureChars,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(adapter)
	}

	if adapter.adapterID == "" {
		adapter.adapterID = DeriveAdapterID(adapter.baseCmd)
	}

	return adapter, nil
}

// DeriveAdapterID derives a stable adapter ID from the base command:
// "subprocess:" + basename of the first token + ":" + first 6 hex chars of
// SHA-256 over the space-joined command. The same command produces the same
// ID across runs, processes, and platforms.
func DeriveAdapterID(baseCmd []string) string {
	first := filepath.Base(baseCmd[0])
	hash := canonicaljson.ShortHash(strings.Join(baseCmd, " "), adapterIDHashLen)

	return fmt.Sprintf("subprocess:%s:%s", first, hash)
}

// AdapterID implements Adapter.
func (a *SubprocessAdapter) AdapterID() string {
	return a.adapterID
}

// Call implements Adapter.
//
// Failure mapping, in order: timeout -> TIMEOUT, missing binary ->
// COMMAND_NOT_FOUND, other spawn failure -> OS_ERROR, non-zero exit ->
// NONZERO_EXIT, stdout that fails to parse or is not a JSON object ->
// INVALID_JSON_OUTPUT. All of these are operational errors.
func (a *SubprocessAdapter) Call(
	ctx context.Context,
	tool, method string,
	args map[string]any,
) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}

	payloadJSON, err := canonicaljson.Marshal(map[string]any{
		"tool":   tool,
		"method": method,
		"args":   args,
	})
	if err != nil {
		return nil, NewBugError(CodeAdapterBug, "failed to encode args payload: %v", err)
	}

	argsFile, err := writeArgsFile(payloadJSON)
	if err != nil {
		return nil, NewOperationalError(CodeOSError, "failed to write args file: %v", err)
	}

	defer func() {
		// Best-effort cleanup on every exit path.
		_ = os.Remove(argsFile)
	}()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, NewOperationalError(CodeOSError, "rate limit wait aborted: %v", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmdArgs := append(append([]string(nil), a.baseCmd[1:]...),
		"call", tool, method, "--json-args-file", argsFile)

	cmd := exec.CommandContext(callCtx, a.baseCmd[0], cmdArgs...)
	cmd.Dir = a.cwd
	cmd.Env = a.mergedEnv()

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if callCtx.Err() != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, NewOperationalError(CodeTimeout, "command timed out after %s", a.timeout)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			a.logger.Debug("subprocess exited non-zero",
				slog.String("adapter_id", a.adapterID),
				slog.Int("exit_code", exitErr.ExitCode()),
				slog.String("stderr", a.truncate(stderr.String())),
			)

			return nil, NewOperationalError(CodeNonzeroExit,
				"command exited with code %d", exitErr.ExitCode())
		}

		if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, fs.ErrNotExist) {
			return nil, NewOperationalError(CodeCommandNotFound,
				"command not found: %s", a.baseCmd[0])
		}

		return nil, NewOperationalError(CodeOSError, "OS error executing command: %v", runErr)
	}

	// Parse the full stdout, never the truncated diagnostic copy.
	output, err := decodeObject(stdout.Bytes())
	if err != nil {
		a.logger.Debug("subprocess produced invalid output",
			slog.String("adapter_id", a.adapterID),
			slog.String("stdout", a.truncate(stdout.String())),
		)

		return nil, NewOperationalError(CodeInvalidJSONOutput, "%v", err)
	}

	return output, nil
}

// mergedEnv returns nil (inherit everything) when no overrides are
// configured, otherwise the ambient environment with overrides appended.
// Later entries win, so overrides take precedence.
func (a *SubprocessAdapter) mergedEnv() []string {
	if a.env == nil {
		return nil
	}

	merged := os.Environ()
	for key, value := range a.env {
		merged = append(merged, key+"="+value)
	}

	return merged
}

func (a *SubprocessAdapter) truncate(text string) string {
	if a.maxCaptureChars <= 0 || len(text) <= a.maxCaptureChars {
		return text
	}

	return text[:a.maxCaptureChars] + fmt.Sprintf("... [truncated at %d]", a.maxCaptureChars)
}

// writeArgsFile materializes the payload into a fresh temporary file and
// returns its path. The caller owns removal.
func writeArgsFile(payload []byte) (string, error) {
	file, err := os.CreateTemp("", "nexus_args_*.json")
	if err != nil {
		return "", err
	}

	path := file.Name()

	if _, err := file.Write(payload); err != nil {
		_ = file.Close()
		_ = os.Remove(path)

		return "", err
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(path)

		return "", err
	}

	return path, nil
}

// decodeObject parses data as JSON and requires the top-level value to be an
// object.
func decodeObject(data []byte) (map[string]any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("invalid JSON output: %w", err)
	}

	object, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("output is not a JSON object: %T", value)
	}

	return object, nil
}
