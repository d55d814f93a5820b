package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type registration struct {
	ID               string `json:"id"`
	StudentName      string `json:"student_name"`
	AcademicYear     string `json:"academic_year"`
	AmountDue        int64  `json:"amount_due"`
	BalanceRemaining int64  `json:"balance_remaining"`
}

type payment struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Cancelled bool   `json:"cancelled"`
}

type pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

type listEnvelope struct {
	Data       []registration `json:"data"`
	Pagination *pagination    `json:"pagination"`
}

type historyEnvelope struct {
	Data struct {
		Payments []payment `json:"payments"`
	} `json:"data"`
}

type finding struct {
	Registration registration
	Expected     int64
	Error        error
}

func main() {
	var (
		base     string
		token    string
		year     string
		pageSize int
		timeout  time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&token, "token", "", "Bearer token with read access")
	flag.StringVar(&year, "year", "", "Restrict the audit to one academic year")
	flag.IntVar(&pageSize, "page-size", 100, "Registrations fetched per page")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	if token == "" {
		token = os.Getenv("LEDGER_AUDIT_TOKEN")
	}
	if token == "" {
		log.Fatal("a bearer token is required (-token or LEDGER_AUDIT_TOKEN)")
	}

	client := &http.Client{Timeout: timeout}
	var (
		findings []finding
		audited  int
	)

	for page := 1; ; page++ {
		path := fmt.Sprintf("/api/v1/registrations?page=%d&limit=%d", page, pageSize)
		if year != "" {
			path += "&academicYear=" + year
		}
		var list listEnvelope
		if err := fetch(client, base, path, token, &list); err != nil {
			log.Fatalf("failed to list registrations: %v", err)
		}
		for _, reg := range list.Data {
			audited++
			expected, err := expectedBalance(client, base, token, reg)
			if err != nil {
				findings = append(findings, finding{Registration: reg, Error: err})
				continue
			}
			if expected != reg.BalanceRemaining {
				findings = append(findings, finding{Registration: reg, Expected: expected})
			}
		}
		if list.Pagination == nil || page*pageSize >= list.Pagination.TotalCount {
			break
		}
	}

	printReport(findings, audited)
	if len(findings) > 0 {
		os.Exit(1)
	}
}

func expectedBalance(client *http.Client, base, token string, reg registration) (int64, error) {
	var history historyEnvelope
	path := fmt.Sprintf("/api/v1/registrations/%s/payments", reg.ID)
	if err := fetch(client, base, path, token, &history); err != nil {
		return 0, err
	}
	var paid int64
	for _, p := range history.Data.Payments {
		if !p.Cancelled {
			paid += p.Amount
		}
	}
	return reg.AmountDue - paid, nil
}

func fetch(client *http.Client, base, path, token string, out interface{}) error {
	url := strings.TrimRight(base, "/") + path
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func printReport(findings []finding, audited int) {
	fmt.Println("Ledger Audit Report")
	fmt.Println("===================")
	for _, f := range findings {
		reg := f.Registration
		if f.Error != nil {
			fmt.Printf("[ERROR] %s (%s, %s)\n", reg.ID, reg.StudentName, reg.AcademicYear)
			fmt.Printf("  Error: %v\n", f.Error)
			continue
		}
		fmt.Printf("[DRIFT] %s (%s, %s)\n", reg.ID, reg.StudentName, reg.AcademicYear)
		fmt.Printf("  Stored balance: %d | Recomputed: %d | Delta: %d\n", reg.BalanceRemaining, f.Expected, f.Expected-reg.BalanceRemaining)
	}
	fmt.Printf("Registrations audited: %d, findings: %d\n", audited, len(findings))
}
