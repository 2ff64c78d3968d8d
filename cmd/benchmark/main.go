// Benchmark tool for testing Talon against labelled loan application data.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/loans.csv -url http://localhost:8080
//
// This tool:
//  1. Reads labelled loan application data (with default outcomes)
//  2. Submits each application to Talon and runs the automated assessment
//  3. Compares Talon's decision (DECLINED vs approved) with actual defaults
//  4. Calculates precision, recall, F1-score, and confusion matrix
//
// The CSV needs the columns: credit_score, monthly_income, monthly_expenses,
// principal_amount, term_months, debt_to_income_ratio, employment_verified,
// membership_years, defaulted.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LoanRecord represents a labelled row from the applications dataset
type LoanRecord struct {
	CreditScore        int
	MonthlyIncome      float64
	MonthlyExpenses    float64
	PrincipalAmount    float64
	TermMonths         int
	DebtToIncomeRatio  float64
	EmploymentVerified bool
	MembershipYears    int
	Defaulted          bool
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Defaulter declined
	FalsePositives int64 // Good borrower declined
	TrueNegatives  int64 // Good borrower approved
	FalseNegatives int64 // Defaulter approved (missed!)

	TotalProcessed int64
	TotalDefaults  int64
	TotalGood      int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labelled loan applications CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Talon base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum applications to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	defaultsOnly := flag.Bool("defaults-only", false, "Only test defaulted applications")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-defaults (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each application result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/loans.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          TALON BENCHMARK - Loan Default Prediction            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Talon URL:    %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Printf("Defaults Only: %v\n", *defaultsOnly)
	fmt.Printf("Sample Rate:  %.2f\n", *sampleRate)
	fmt.Println()

	// Check Talon is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Talon not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Talon is running:")
		fmt.Println("  cd talon && go run cmd/talon/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Talon is healthy")

	client := &http.Client{Timeout: 10 * time.Second}

	// Create the shared benchmark product
	productID, err := createProduct(client, *baseURL, *tenantID)
	if err != nil {
		fmt.Printf("ERROR: Failed to create benchmark product: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Benchmark product created (%s)\n", productID)

	// Read application data
	fmt.Printf("\nReading loan applications from %s...\n", *csvPath)
	records, err := readLoanCSV(*csvPath, *limit, *defaultsOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d applications\n", len(records))

	// Count defaults vs good borrowers
	defaultCount := 0
	for _, rec := range records {
		if rec.Defaulted {
			defaultCount++
		}
	}
	fmt.Printf("  - Defaults: %d (%.2f%%)\n", defaultCount, 100*float64(defaultCount)/float64(len(records)))
	fmt.Printf("  - Good:     %d (%.2f%%)\n", len(records)-defaultCount, 100*float64(len(records)-defaultCount)/float64(len(records)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(records, *baseURL, *tenantID, productID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLoanCSV(path string, limit int, defaultsOnly bool, sampleRate float64) ([]LoanRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var records []LoanRecord
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		defaulted := record[colIndex["defaulted"]] == "1"

		// Apply filters
		if defaultsOnly && !defaulted {
			continue
		}

		// Sample good borrowers
		if !defaulted && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		creditScore, _ := strconv.Atoi(record[colIndex["credit_score"]])
		income, _ := strconv.ParseFloat(record[colIndex["monthly_income"]], 64)
		expenses, _ := strconv.ParseFloat(record[colIndex["monthly_expenses"]], 64)
		principal, _ := strconv.ParseFloat(record[colIndex["principal_amount"]], 64)
		termMonths, _ := strconv.Atoi(record[colIndex["term_months"]])
		dti, _ := strconv.ParseFloat(record[colIndex["debt_to_income_ratio"]], 64)
		membershipYears, _ := strconv.Atoi(record[colIndex["membership_years"]])
		employmentVerified := record[colIndex["employment_verified"]] == "1"

		records = append(records, LoanRecord{
			CreditScore:        creditScore,
			MonthlyIncome:      income,
			MonthlyExpenses:    expenses,
			PrincipalAmount:    principal,
			TermMonths:         termMonths,
			DebtToIncomeRatio:  dti,
			EmploymentVerified: employmentVerified,
			MembershipYears:    membershipYears,
			Defaulted:          defaulted,
		})

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, nil
}

func runBenchmark(records []LoanRecord, baseURL, tenantID, productID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LoanRecord, 100)
	var wg sync.WaitGroup
	var seq int64

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for rec := range work {
				n := atomic.AddInt64(&seq, 1)
				start := time.Now()
				result, err := assessApplication(client, baseURL, tenantID, productID, n, rec)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: application %d -> %v\n", n, err)
					}
					continue
				}

				// Track actual labels
				if rec.Defaulted {
					atomic.AddInt64(&metrics.TotalDefaults, 1)
				} else {
					atomic.AddInt64(&metrics.TotalGood, 1)
				}

				// Calculate confusion matrix
				predicted := result.Result == "DECLINED"
				actual := rec.Defaulted

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s app-%06d | Score: %4d | Amount: $%10.2f | DTI: %.2f | Defaulted: %-5v | Talon: %-22s (risk %d)\n",
						status,
						n,
						rec.CreditScore,
						rec.PrincipalAmount,
						rec.DebtToIncomeRatio,
						rec.Defaulted,
						result.Result,
						result.RiskScore,
					)
				}
			}
		}()
	}

	// Send work
	for _, rec := range records {
		work <- rec
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

// assessmentResult is the subset of the decision payload the benchmark reads.
type assessmentResult struct {
	Result    string `json:"decisionResult"`
	RiskScore int    `json:"riskScore"`
	RiskLevel string `json:"riskLevel"`
}

func createProduct(client *http.Client, baseURL, tenantID string) (string, error) {
	body := map[string]any{
		"name":                 "Benchmark Loan",
		"minCreditScore":       650,
		"maxDebtToIncomeRatio": 0.40,
		"approvalLevels":       1,
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := postJSON(client, baseURL+"/products", tenantID, body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func assessApplication(client *http.Client, baseURL, tenantID, productID string, n int64, rec LoanRecord) (*assessmentResult, error) {
	// Each application gets its own client so membership tenure and
	// income come from the row.
	clientBody := map[string]any{
		"firstName":       "Applicant",
		"lastName":        fmt.Sprintf("%06d", n),
		"memberSince":     time.Now().UTC().AddDate(-rec.MembershipYears, 0, -1),
		"monthlyIncome":   rec.MonthlyIncome,
		"monthlyExpenses": rec.MonthlyExpenses,
	}
	var createdClient struct {
		ID string `json:"id"`
	}
	if err := postJSON(client, baseURL+"/clients", tenantID, clientBody, &createdClient); err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	loanBody := map[string]any{
		"clientId":           createdClient.ID,
		"productId":          productID,
		"principalAmount":    rec.PrincipalAmount,
		"termMonths":         rec.TermMonths,
		"debtToIncomeRatio":  rec.DebtToIncomeRatio,
		"employmentVerified": rec.EmploymentVerified,
	}
	var loan struct {
		ID string `json:"id"`
	}
	if err := postJSON(client, baseURL+"/loans", tenantID, loanBody, &loan); err != nil {
		return nil, fmt.Errorf("submitting loan: %w", err)
	}

	// Documents are not part of the dataset; the bureau supplies the
	// credit picture.
	assessBody := map[string]any{
		"includeDocumentVerification": false,
		"actorId":                     "benchmark",
	}
	var assessed struct {
		Decision assessmentResult `json:"decision"`
	}
	if err := postJSON(client, baseURL+"/loans/"+loan.ID+"/assess", tenantID, assessBody, &assessed); err != nil {
		return nil, fmt.Errorf("assessing loan: %w", err)
	}

	return &assessed.Decision, nil
}

func postJSON(client *http.Client, url, tenantID string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Defaults:   %d\n", m.TotalDefaults)
	fmt.Printf("   Total Good:       %d\n", m.TotalGood)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  DECLINED    APPROVED")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  D  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           G  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DECISION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of declines, how many would have defaulted)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of defaulters, how many did we decline)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct decisions)\n", accuracy)

	// Decline rate analysis
	fmt.Printf("\n🔍 PORTFOLIO ANALYSIS\n")
	if m.TotalDefaults > 0 {
		declineRate := float64(m.TruePositives) / float64(m.TotalDefaults) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalDefaults) * 100
		fmt.Printf("   Defaults Declined: %d / %d (%.2f%%)\n", m.TruePositives, m.TotalDefaults, declineRate)
		fmt.Printf("   Defaults Funded:   %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalDefaults, missRate)
	}
	if m.TotalGood > 0 {
		lostBusiness := float64(m.FalsePositives) / float64(m.TotalGood) * 100
		fmt.Printf("   Good Declined:     %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalGood, lostBusiness)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		aps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f applications/sec\n", aps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - declining most future defaults")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but funding some future defaults")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant defaults being funded")
	} else {
		fmt.Println("   ❌ Poor recall - most future defaults are being funded!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - declines are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - declining many good borrowers")
	} else {
		fmt.Println("   ❌ Very low precision - mostly good borrowers declined")
	}

	fmt.Println()
}
