package main

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"banking-ledger/internal/config"
	"banking-ledger/internal/server"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type IntegrationTestSuite struct {
	suite.Suite
	postgresContainer *tcpostgres.PostgresContainer
	serverInstance    *server.Server
	serverPort        string
	baseURL           string
	client            *http.Client
	dbConnStr         string

	checkingNumber string
	savingsNumber  string
}

func (suite *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	postgresContainer, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("banking_ledger"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %s", err)
	}
	suite.postgresContainer = postgresContainer

	suite.dbConnStr, err = postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		suite.T().Fatalf("Failed to build connection string: %s", err)
	}

	if err := suite.runMigrations(); err != nil {
		suite.T().Fatalf("Failed to run migrations: %s", err)
	}

	if err := suite.startApplicationServer(); err != nil {
		suite.T().Fatalf("Failed to start application server: %s", err)
	}

	suite.client = &http.Client{
		Timeout: 30 * time.Second,
	}
}

func (suite *IntegrationTestSuite) runMigrations() error {
	db, err := sql.Open("postgres", suite.dbConnStr)
	if err != nil {
		return err
	}
	defer db.Close()

	migrationFiles, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	sort.Slice(migrationFiles, func(i, j int) bool {
		return migrationFiles[i].Name() < migrationFiles[j].Name()
	})

	for _, file := range migrationFiles {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}
		migrationSQL, err := migrationsFS.ReadFile(filepath.Join("migrations", file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file.Name(), err)
		}
		if _, err := db.Exec(string(migrationSQL)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", file.Name(), err)
		}
		suite.T().Logf("Executed migration: %s", file.Name())
	}

	return nil
}

func (suite *IntegrationTestSuite) startApplicationServer() error {
	ctx := context.Background()

	host, err := suite.postgresContainer.Host(ctx)
	if err != nil {
		return err
	}
	mappedPort, err := suite.postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		return err
	}

	cfg := &config.Config{
		ServerPort: "0", // Let OS choose a free port
		Storage:    config.StoragePostgres,
		DBHost:     host,
		DBPort:     mappedPort.Port(),
		DBUser:     "postgres",
		DBPassword: "password",
		DBName:     "banking_ledger",
		DBSSLMode:  "disable",
	}

	serverInstance, port, err := server.StartServer(cfg)
	if err != nil {
		return err
	}

	suite.serverInstance = serverInstance
	suite.serverPort = port
	suite.baseURL = "http://localhost:" + port

	return suite.waitForServerReady()
}

func (suite *IntegrationTestSuite) waitForServerReady() error {
	timeout := 30 * time.Second
	start := time.Now()

	for time.Since(start) < timeout {
		resp, err := http.Get(suite.baseURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

func (suite *IntegrationTestSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if suite.serverInstance != nil {
		suite.serverInstance.Stop(ctx)
	}

	if suite.postgresContainer != nil {
		suite.postgresContainer.Terminate(ctx)
	}
}

func (suite *IntegrationTestSuite) postJSON(path string, payload map[string]interface{}) (int, string, error) {
	body, _ := json.Marshal(payload)

	resp, err := suite.client.Post(suite.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(respBody), nil
}

func (suite *IntegrationTestSuite) get(path string) (int, string, error) {
	resp, err := suite.client.Get(suite.baseURL + path)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(respBody), nil
}

func (suite *IntegrationTestSuite) parseResponse(body string) (map[string]interface{}, error) {
	var response map[string]interface{}
	if err := json.Unmarshal([]byte(body), &response); err != nil {
		suite.T().Logf("Failed to parse response: %s", body)
		return nil, err
	}
	return response, nil
}

func (suite *IntegrationTestSuite) data(body string) map[string]interface{} {
	response, err := suite.parseResponse(body)
	assert.NoError(suite.T(), err)

	data, hasData := response["data"]
	if !assert.True(suite.T(), hasData, "Response should have 'data' field: %s", body) {
		return map[string]interface{}{}
	}
	return data.(map[string]interface{})
}

func (suite *IntegrationTestSuite) errorCode(body string) string {
	response, err := suite.parseResponse(body)
	assert.NoError(suite.T(), err)

	errorData, hasError := response["error"]
	if !assert.True(suite.T(), hasError, "Response should have 'error' field: %s", body) {
		return ""
	}
	return errorData.(map[string]interface{})["code"].(string)
}

func (suite *IntegrationTestSuite) assertDecimalEqual(expected, actual string, msgAndArgs ...interface{}) {
	expectedDec, err := decimal.NewFromString(expected)
	if err != nil {
		suite.T().Fatalf("Invalid expected decimal: %s", expected)
	}

	actualDec, err := decimal.NewFromString(actual)
	if err != nil {
		suite.T().Fatalf("Invalid actual decimal: %s", actual)
	}

	assert.True(suite.T(), expectedDec.Equal(actualDec),
		"Decimal values not equal: expected %s, got %s", expected, actual)
}

func (suite *IntegrationTestSuite) accountBalance(accountNumber string) string {
	status, body, err := suite.get("/accounts/" + accountNumber)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, status)
	return suite.data(body)["balance"].(string)
}

// ------------------------------------------------------------------
// Steps below are helpers (non-test methods). They will be executed
// in the order invoked by TestFlow. This allows deterministic ordering
// without relying on test function name prefixes.
// ------------------------------------------------------------------

func (suite *IntegrationTestSuite) stepHealthCheck() {
	status, body, err := suite.get("/health")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, status)

	var healthResp map[string]interface{}
	err = json.Unmarshal([]byte(body), &healthResp)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "healthy", healthResp["status"])
}

func (suite *IntegrationTestSuite) stepCreateAccounts() {
	status, body, err := suite.postJSON("/accounts", map[string]interface{}{
		"account_type": "CHECKING",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Create Checking Response: %s", body)
	assert.Equal(suite.T(), http.StatusCreated, status)

	checking := suite.data(body)
	suite.checkingNumber = checking["account_number"].(string)
	assert.Equal(suite.T(), "CHECKING", checking["account_type"])
	assert.Equal(suite.T(), "ACTIVE", checking["status"])
	suite.assertDecimalEqual("0", checking["balance"].(string))
	suite.assertDecimalEqual("500.00", checking["overdraft_limit"].(string))

	status, body, err = suite.postJSON("/accounts", map[string]interface{}{
		"account_type": "SAVINGS",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Create Savings Response: %s", body)
	assert.Equal(suite.T(), http.StatusCreated, status)
	suite.savingsNumber = suite.data(body)["account_number"].(string)

	status, body, err = suite.get("/accounts/" + suite.checkingNumber)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), suite.checkingNumber, suite.data(body)["account_number"])
}

func (suite *IntegrationTestSuite) stepInvalidAccountType() {
	status, body, err := suite.postJSON("/accounts", map[string]interface{}{
		"account_type": "PREMIUM",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	assert.Equal(suite.T(), "invalid_input", suite.errorCode(body))
}

func (suite *IntegrationTestSuite) stepDeposit() {
	status, body, err := suite.postJSON("/transactions/deposit", map[string]interface{}{
		"account_number": suite.checkingNumber,
		"amount":         "1000.50",
		"description":    "initial funding",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Deposit Response: %s", body)
	assert.Equal(suite.T(), http.StatusCreated, status)

	deposit := suite.data(body)
	assert.Equal(suite.T(), "DEPOSIT", deposit["transaction_type"])
	assert.Equal(suite.T(), "COMPLETED", deposit["status"])
	assert.NotEmpty(suite.T(), deposit["reference_number"])
	suite.assertDecimalEqual("1000.50", deposit["balance_after"].(string))

	suite.assertDecimalEqual("1000.50", suite.accountBalance(suite.checkingNumber))
}

func (suite *IntegrationTestSuite) stepWithdraw() {
	status, body, err := suite.postJSON("/transactions/withdraw", map[string]interface{}{
		"account_number": suite.checkingNumber,
		"amount":         "200.50",
		"channel":        "ATM",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Withdraw Response: %s", body)
	assert.Equal(suite.T(), http.StatusCreated, status)

	withdrawal := suite.data(body)
	assert.Equal(suite.T(), "WITHDRAWAL", withdrawal["transaction_type"])
	assert.Equal(suite.T(), "ATM", withdrawal["channel"])
	suite.assertDecimalEqual("800.00", withdrawal["balance_after"].(string))
}

func (suite *IntegrationTestSuite) stepTransfer() {
	status, body, err := suite.postJSON("/transactions/transfer", map[string]interface{}{
		"account_number":        suite.checkingNumber,
		"target_account_number": suite.savingsNumber,
		"amount":                "300.00",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Transfer Response: %s", body)
	assert.Equal(suite.T(), http.StatusCreated, status)

	transfer := suite.data(body)
	assert.Equal(suite.T(), "TRANSFER_OUT", transfer["transaction_type"])
	assert.Equal(suite.T(), "COMPLETED", transfer["status"])
	assert.Equal(suite.T(), suite.savingsNumber, transfer["target_account_number"])
	suite.assertDecimalEqual("500.00", transfer["balance_after"].(string))

	// 800.00 - 300.00 = 500.00 and 0 + 300.00 = 300.00
	suite.assertDecimalEqual("500.00", suite.accountBalance(suite.checkingNumber))
	suite.assertDecimalEqual("300.00", suite.accountBalance(suite.savingsNumber))
}

func (suite *IntegrationTestSuite) stepGetTransactionByReference() {
	status, body, err := suite.postJSON("/transactions/deposit", map[string]interface{}{
		"account_number": suite.savingsNumber,
		"amount":         "25.00",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusCreated, status)
	reference := suite.data(body)["reference_number"].(string)

	status, body, err = suite.get("/transactions/" + reference)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), reference, suite.data(body)["reference_number"])

	status, body, err = suite.get("/transactions/TXN-0000000000000-DEADBEEF")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "transaction_not_found", suite.errorCode(body))
}

func (suite *IntegrationTestSuite) stepBalanceInquiry() {
	status, body, err := suite.get("/accounts/" + suite.checkingNumber + "/balance")
	assert.NoError(suite.T(), err)
	suite.T().Logf("Balance Inquiry Response: %s", body)
	assert.Equal(suite.T(), http.StatusOK, status)

	inquiry := suite.data(body)
	assert.Equal(suite.T(), "BALANCE_INQUIRY", inquiry["transaction_type"])
	suite.assertDecimalEqual("500.00", inquiry["balance_after"].(string))
}

func (suite *IntegrationTestSuite) stepInsufficientFunds() {
	status, body, err := suite.postJSON("/transactions/withdraw", map[string]interface{}{
		"account_number": suite.checkingNumber,
		"amount":         "10000.00",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Insufficient Funds Response: %s", body)
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "insufficient_funds", suite.errorCode(body))

	// Balance unchanged.
	suite.assertDecimalEqual("500.00", suite.accountBalance(suite.checkingNumber))
}

func (suite *IntegrationTestSuite) stepOverdraftBoundary() {
	// 500.00 balance plus the 500.00 overdraft allows exactly 1000.00.
	status, body, err := suite.postJSON("/transactions/withdraw", map[string]interface{}{
		"account_number": suite.checkingNumber,
		"amount":         "1000.00",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Overdraft Withdrawal Response: %s", body)
	assert.Equal(suite.T(), http.StatusCreated, status)
	suite.assertDecimalEqual("-500.00", suite.data(body)["balance_after"].(string))

	status, body, err = suite.postJSON("/transactions/withdraw", map[string]interface{}{
		"account_number": suite.checkingNumber,
		"amount":         "0.01",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "insufficient_funds", suite.errorCode(body))

	// Restore the balance for later steps.
	status, _, err = suite.postJSON("/transactions/deposit", map[string]interface{}{
		"account_number": suite.checkingNumber,
		"amount":         "500.00",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusCreated, status)
}

func (suite *IntegrationTestSuite) stepSameAccountTransfer() {
	status, body, err := suite.postJSON("/transactions/transfer", map[string]interface{}{
		"account_number":        suite.checkingNumber,
		"target_account_number": suite.checkingNumber,
		"amount":                "100.00",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Same Account Transfer Response: %s", body)
	assert.Equal(suite.T(), http.StatusBadRequest, status)
	assert.Equal(suite.T(), "invalid_input", suite.errorCode(body))
}

func (suite *IntegrationTestSuite) stepInvalidAmount() {
	for _, amount := range []string{"-100.00", "0.00", "abc"} {
		status, body, err := suite.postJSON("/transactions/deposit", map[string]interface{}{
			"account_number": suite.checkingNumber,
			"amount":         amount,
		})
		assert.NoError(suite.T(), err)
		suite.T().Logf("Invalid Amount (%s) Response: %s", amount, body)
		assert.Equal(suite.T(), http.StatusBadRequest, status)
		assert.Equal(suite.T(), "invalid_input", suite.errorCode(body))
	}
}

func (suite *IntegrationTestSuite) stepAccountNotFound() {
	status, body, err := suite.get("/accounts/CHK-00000000-ZZZZ")
	assert.NoError(suite.T(), err)
	suite.T().Logf("Account Not Found Response: %s", body)
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "account_not_found", suite.errorCode(body))

	status, body, err = suite.postJSON("/transactions/deposit", map[string]interface{}{
		"account_number": "CHK-00000000-ZZZZ",
		"amount":         "10.00",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusNotFound, status)
	assert.Equal(suite.T(), "account_not_found", suite.errorCode(body))
}

func (suite *IntegrationTestSuite) stepTransactionHistory() {
	status, body, err := suite.get("/accounts/" + suite.checkingNumber + "/transactions")
	assert.NoError(suite.T(), err)
	suite.T().Logf("History Response: %s", body)
	assert.Equal(suite.T(), http.StatusOK, status)

	history := suite.data(body)
	transactions := history["transactions"].([]interface{})
	assert.Equal(suite.T(), float64(len(transactions)), history["count"])
	assert.NotEmpty(suite.T(), transactions)

	// Failed attempts never appear in history.
	for _, entry := range transactions {
		record := entry.(map[string]interface{})
		assert.Equal(suite.T(), "COMPLETED", record["status"])
	}
}

func (suite *IntegrationTestSuite) stepTotalDeposits() {
	status, body, err := suite.get("/accounts/" + suite.checkingNumber + "/deposits/total")
	assert.NoError(suite.T(), err)
	suite.T().Logf("Total Deposits Response: %s", body)
	assert.Equal(suite.T(), http.StatusOK, status)

	totals := suite.data(body)
	// 1000.50 initial plus the 500.00 overdraft restore.
	suite.assertDecimalEqual("1500.50", totals["total_deposits"].(string))
}

func (suite *IntegrationTestSuite) stepSuspendAndActivate() {
	status, body, err := suite.postJSON("/accounts/"+suite.savingsNumber+"/suspend", map[string]interface{}{
		"reason": "fraud review",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Suspend Response: %s", body)
	assert.Equal(suite.T(), http.StatusOK, status)

	// Money movement is rejected while suspended.
	status, body, err = suite.postJSON("/transactions/deposit", map[string]interface{}{
		"account_number": suite.savingsNumber,
		"amount":         "10.00",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusConflict, status)
	assert.Equal(suite.T(), "invalid_state", suite.errorCode(body))

	// Balance inquiry is still allowed.
	status, body, err = suite.get("/accounts/" + suite.savingsNumber + "/balance")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, status)
	assert.Equal(suite.T(), "BALANCE_INQUIRY", suite.data(body)["transaction_type"])

	status, _, err = suite.postJSON("/accounts/"+suite.savingsNumber+"/activate", nil)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusOK, status)
}

func (suite *IntegrationTestSuite) stepCloseAccount() {
	// Closing with a non-zero balance is rejected.
	status, body, err := suite.postJSON("/accounts/"+suite.savingsNumber+"/close", nil)
	assert.NoError(suite.T(), err)
	suite.T().Logf("Close With Balance Response: %s", body)
	assert.Equal(suite.T(), http.StatusConflict, status)
	assert.Equal(suite.T(), "invalid_state", suite.errorCode(body))

	// A fresh zero-balance account closes cleanly.
	status, body, err = suite.postJSON("/accounts", map[string]interface{}{
		"account_type": "SAVINGS",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusCreated, status)
	emptyAccount := suite.data(body)["account_number"].(string)

	status, body, err = suite.postJSON("/accounts/"+emptyAccount+"/close", nil)
	assert.NoError(suite.T(), err)
	suite.T().Logf("Close Response: %s", body)
	assert.Equal(suite.T(), http.StatusOK, status)

	// CLOSED is terminal: no movement, no reactivation.
	status, body, err = suite.postJSON("/transactions/deposit", map[string]interface{}{
		"account_number": emptyAccount,
		"amount":         "10.00",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusConflict, status)
	assert.Equal(suite.T(), "invalid_state", suite.errorCode(body))

	status, body, err = suite.postJSON("/accounts/"+emptyAccount+"/activate", nil)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusConflict, status)
	assert.Equal(suite.T(), "invalid_state", suite.errorCode(body))
}

func (suite *IntegrationTestSuite) stepCreditAccount() {
	status, body, err := suite.postJSON("/accounts", map[string]interface{}{
		"account_type": "CREDIT",
	})
	assert.NoError(suite.T(), err)
	suite.T().Logf("Create Credit Response: %s", body)
	assert.Equal(suite.T(), http.StatusCreated, status)

	credit := suite.data(body)
	creditNumber := credit["account_number"].(string)
	suite.assertDecimalEqual("5000.00", credit["credit_limit"].(string))
	suite.assertDecimalEqual("5000.00", credit["available_balance"].(string))

	// A draw raises the amount owed.
	status, body, err = suite.postJSON("/transactions/withdraw", map[string]interface{}{
		"account_number": creditNumber,
		"amount":         "1200.00",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusCreated, status)
	suite.assertDecimalEqual("1200.00", suite.data(body)["balance_after"].(string))

	// A payment lowers it.
	status, body, err = suite.postJSON("/transactions/deposit", map[string]interface{}{
		"account_number": creditNumber,
		"amount":         "200.00",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusCreated, status)
	suite.assertDecimalEqual("1000.00", suite.data(body)["balance_after"].(string))

	// The limit caps further draws.
	status, body, err = suite.postJSON("/transactions/withdraw", map[string]interface{}{
		"account_number": creditNumber,
		"amount":         "4000.01",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), http.StatusUnprocessableEntity, status)
	assert.Equal(suite.T(), "insufficient_funds", suite.errorCode(body))
}

func (suite *IntegrationTestSuite) TestFlow() {
	if testing.Short() {
		suite.T().Skip("Skipping integration test in short mode")
	}

	suite.stepHealthCheck()
	suite.stepCreateAccounts()
	suite.stepInvalidAccountType()
	suite.stepDeposit()
	suite.stepWithdraw()
	suite.stepTransfer()
	suite.stepGetTransactionByReference()
	suite.stepBalanceInquiry()
	suite.stepInsufficientFunds()
	suite.stepOverdraftBoundary()
	suite.stepSameAccountTransfer()
	suite.stepInvalidAmount()
	suite.stepAccountNotFound()
	suite.stepTransactionHistory()
	suite.stepTotalDeposits()
	suite.stepSuspendAndActivate()
	suite.stepCloseAccount()
	suite.stepCreditAccount()
}

func TestIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
