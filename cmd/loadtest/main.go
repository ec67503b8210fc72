package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/service/httpapi"
)

type loadMode string

const (
	// каждый пользователь покупает свой товар по кругу
	modeCheckout loadMode = "checkout"
	// оформление и отмена владельцем
	modeCheckoutCancel loadMode = "checkout-cancel"
	// все пользователи покупают один товар: проверка остатков под конкуренцией
	modeContention loadMode = "contention"
)

const scenarioMethod = "scenario"

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	products    []string
	quantity    int
	userTag     string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

// record учитывает вызов; code — HTTP-статус или 0 для транспортной ошибки.
func (c *collector) record(method string, latency time.Duration, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if code >= 200 && code < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[codeLabel(code)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func codeLabel(code int) string {
	if code == 0 {
		return "transport_error"
	}
	return strconv.Itoa(code)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenario := c.methods[scenarioMethod]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codes := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codes[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codes,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return result
}

func parseConfig(args []string, out io.Writer) (config, error) {
	var (
		cfg          config
		modeValue    string
		productsRaw  string
		durationFlag time.Duration
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "food service base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&durationFlag, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-cancel | contention")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for checkout mode (0..100)")
	fs.StringVar(&productsRaw, "products", "margherita,pepperoni,paneer-tikka,chicken-biryani,tomato-soup", "comma-separated product ids")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per cart line")
	fs.StringVar(&cfg.userTag, "user-tag", "load", "user id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.duration = durationFlag
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	for _, p := range strings.Split(productsRaw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.products = append(cfg.products, p)
		}
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case len(cfg.products) == 0:
		return cfg, errors.New("at least one product is required")
	case strings.TrimSpace(cfg.userTag) == "":
		return cfg, errors.New("user-tag is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCheckout, modeCheckoutCancel, modeContention:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := runLoad(context.Background(), cfg, &http.Client{})
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	// в режиме contention отказы по остаткам ожидаемы
	if result.FailedScenarios > 0 && cfg.mode != modeContention {
		os.Exit(1)
	}
}

// runLoad прогоняет сценарии пулом из cfg.concurrency горутин.
func runLoad(ctx context.Context, cfg config, client *http.Client) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	api := &apiClient{baseURL: cfg.baseURL, http: client, timeout: cfg.timeout, col: col}

	jobs := make(chan int, cfg.concurrency*2)
	g, gctx := errgroup.WithContext(ctx)
	for range cfg.concurrency {
		g.Go(func() error {
			for id := range jobs {
				_ = runScenario(gctx, api, cfg, id, runID)
			}
			return nil
		})
	}

	dispatchJobs(jobs, cfg)
	_ = g.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := range cfg.total {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// scenarioError несёт HTTP-статус шага, на котором сценарий остановился.
type scenarioError struct {
	step string
	code int
	body string
}

func (e *scenarioError) Error() string {
	return fmt.Sprintf("%s: status %s: %s", e.step, codeLabel(e.code), e.body)
}

// runScenario: корзина, оформление, при необходимости отмена.
func runScenario(ctx context.Context, api *apiClient, cfg config, index int, runID string) (err error) {
	start := time.Now()
	defer func() {
		code := http.StatusOK
		var se *scenarioError
		if errors.As(err, &se) {
			code = se.code
		} else if err != nil {
			code = 0
		}
		api.col.record(scenarioMethod, time.Since(start), code)
	}()

	userID := fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index)
	product := cfg.products[index%len(cfg.products)]
	if cfg.mode == modeContention {
		product = cfg.products[0]
	}

	if _, err := api.call(ctx, "AddToCart", http.MethodPost, "/cart/add", userID, "", map[string]any{
		"productId": product,
		"quantity":  cfg.quantity,
	}); err != nil {
		return err
	}

	body, err := api.call(ctx, "Checkout", http.MethodPost, "/cart/checkout", userID,
		fmt.Sprintf("lt-checkout-%s-%d", runID, index),
		map[string]any{"deliveryAddress": loadAddress(userID)})
	if err != nil {
		return err
	}
	var created struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.Order.ID == "" {
		return &scenarioError{step: "Checkout", code: http.StatusInternalServerError, body: "response without order id"}
	}

	if cfg.mode == modeCheckoutCancel || (cfg.mode == modeCheckout && shouldCancelScenario(index, cfg.cancelRate)) {
		if _, err := api.call(ctx, "CancelOrder", http.MethodPut, "/orders/"+created.Order.ID+"/cancel", userID, "", nil); err != nil {
			return err
		}
	}
	return nil
}

func loadAddress(userID string) domain.Address {
	return domain.Address{
		FullName:   userID,
		Phone:      "+10000000000",
		Street:     "1 Load Street",
		City:       "Testville",
		State:      "TS",
		PostalCode: "00000",
		Country:    "US",
	}
}

type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	col     *collector
}

// call выполняет запрос от имени обычного пользователя и возвращает тело 2xx-ответа.
func (a *apiClient) call(ctx context.Context, method, verb, path, userID, idempotencyKey string, payload any) ([]byte, error) {
	start := time.Now()
	code := 0
	defer func() { a.col.record(method, time.Since(start), code) }()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", method, err)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, verb, a.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpapi.HeaderUserID, userID)
	req.Header.Set(httpapi.HeaderUserRole, string(domain.RoleUser))
	if idempotencyKey != "" {
		req.Header.Set(httpapi.HeaderIdempotencyKey, idempotencyKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	code = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}
	if code < 200 || code >= 300 {
		return nil, &scenarioError{step: method, code: code, body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms codes=%v\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
			stats.Codes,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
