package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

const (
	// 2Captcha API endpoints
	twoCaptchaBaseURL    = "https://api.2captcha.com"
	twoCaptchaCreateTask = "/createTask"
	twoCaptchaGetResult  = "/getTaskResult"
	twoCaptchaGetBalance = "/getBalance"

	// Default polling interval for 2Captcha
	twoCaptchaPollInterval = 5 * time.Second

	// 2Captcha typically solves Turnstile in 10-30 seconds
	twoCaptchaDefaultTimeout = 120 * time.Second
)

// TwoCaptcha implements Provider for the 2Captcha API.
type TwoCaptcha struct {
	apiKey       string
	httpClient   *http.Client
	baseURL      string
	timeout      time.Duration
	pollInterval time.Duration
}

// TwoCaptchaConfig contains configuration for the 2Captcha provider.
type TwoCaptchaConfig struct {
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	BaseURL      string // Override for testing
}

// NewTwoCaptcha creates a 2Captcha provider instance.
func NewTwoCaptcha(cfg TwoCaptchaConfig) *TwoCaptcha {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = twoCaptchaDefaultTimeout
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = twoCaptchaPollInterval
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twoCaptchaBaseURL
	}

	return &TwoCaptcha{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		timeout:      timeout,
		pollInterval: pollInterval,
		httpClient: &http.Client{
			Timeout: timeout + 10*time.Second, // HTTP timeout slightly longer than solve timeout
		},
	}
}

// Name returns the provider name.
func (s *TwoCaptcha) Name() string {
	return "2captcha"
}

// IsConfigured returns true if API key is set.
func (s *TwoCaptcha) IsConfigured() bool {
	return s.apiKey != ""
}

// twoCaptchaCreateTaskRequest is the request body for createTask.
type twoCaptchaCreateTaskRequest struct {
	ClientKey string                  `json:"clientKey"`
	Task      twoCaptchaTurnstileTask `json:"task"`
}

// twoCaptchaTurnstileTask is the task specification for Turnstile.
type twoCaptchaTurnstileTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
	Action     string `json:"action,omitempty"`
	Data       string `json:"data,omitempty"`
}

// twoCaptchaCreateTaskResponse is the response from createTask.
type twoCaptchaCreateTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
	TaskID           int64  `json:"taskId,omitempty"`
}

// twoCaptchaGetResultRequest is the request body for getTaskResult.
type twoCaptchaGetResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

// twoCaptchaGetResultResponse is the response from getTaskResult.
type twoCaptchaGetResultResponse struct {
	ErrorID          int                          `json:"errorId"`
	ErrorCode        string                       `json:"errorCode,omitempty"`
	ErrorDescription string                       `json:"errorDescription,omitempty"`
	Status           string                       `json:"status"` // "processing" or "ready"
	Solution         *twoCaptchaTurnstileSolution `json:"solution,omitempty"`
	Cost             string                       `json:"cost,omitempty"`
}

// twoCaptchaTurnstileSolution contains the Turnstile solution.
type twoCaptchaTurnstileSolution struct {
	Token string `json:"token"`
}

// twoCaptchaBalanceResponse is the response from getBalance.
type twoCaptchaBalanceResponse struct {
	ErrorID          int     `json:"errorId"`
	ErrorCode        string  `json:"errorCode,omitempty"`
	ErrorDescription string  `json:"errorDescription,omitempty"`
	Balance          float64 `json:"balance"`
}

// Solve solves a CAPTCHA task using the 2Captcha API.
func (s *TwoCaptcha) Solve(ctx context.Context, task *Task) (*Solution, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("2captcha API key not configured")
	}

	startTime := time.Now()

	taskID, err := s.createTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	log.Debug().
		Int64("task_id", taskID).
		Str("sitekey", truncateKey(task.SiteKey)).
		Msg("2Captcha task created")

	result, err := s.pollResult(ctx, taskID)
	if err != nil {
		return nil, err
	}

	solveTime := time.Since(startTime)

	// Parse cost (2Captcha returns cost as string)
	var cost float64
	if result.Cost != "" {
		_, _ = fmt.Sscanf(result.Cost, "%f", &cost)
	}

	return &Solution{
		Token:     result.Solution.Token,
		SolveTime: solveTime,
		Cost:      cost,
		Provider:  s.Name(),
	}, nil
}

// createTask creates a new solving task.
func (s *TwoCaptcha) createTask(ctx context.Context, task *Task) (int64, error) {
	taskReq := twoCaptchaCreateTaskRequest{
		ClientKey: s.apiKey,
		Task: twoCaptchaTurnstileTask{
			Type:       "TurnstileTaskProxyless",
			WebsiteURL: task.PageURL,
			WebsiteKey: task.SiteKey,
			Action:     task.Action,
			Data:       task.CData,
		},
	}

	body, err := json.Marshal(taskReq)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+twoCaptchaCreateTask, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	var taskResp twoCaptchaCreateTaskResponse
	if err := json.Unmarshal(respBody, &taskResp); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}

	if taskResp.ErrorID != 0 {
		return 0, s.handleError(taskResp.ErrorCode, taskResp.ErrorDescription, "")
	}

	return taskResp.TaskID, nil
}

// pollResult polls for the task result until complete or timeout.
func (s *TwoCaptcha) pollResult(ctx context.Context, taskID int64) (*twoCaptchaGetResultResponse, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Initial delay before first poll (2Captcha recommends 5s)
	select {
	case <-pollCtx.Done():
		return nil, types.NewCaptchaTimeoutError(s.Name(), fmt.Sprintf("%d", taskID))
	case <-ticker.C:
	}

	for {
		select {
		case <-pollCtx.Done():
			return nil, types.NewCaptchaTimeoutError(s.Name(), fmt.Sprintf("%d", taskID))
		case <-ticker.C:
			result, err := s.getResult(pollCtx, taskID)
			if err != nil {
				return nil, err
			}

			if result.Status == "ready" {
				if result.Solution == nil || result.Solution.Token == "" {
					return nil, fmt.Errorf("received ready status but no token")
				}
				return result, nil
			}

			log.Debug().
				Int64("task_id", taskID).
				Str("status", result.Status).
				Msg("2Captcha task still processing")
		}
	}
}

// getResult retrieves the result for a task.
func (s *TwoCaptcha) getResult(ctx context.Context, taskID int64) (*twoCaptchaGetResultResponse, error) {
	resultReq := twoCaptchaGetResultRequest{
		ClientKey: s.apiKey,
		TaskID:    taskID,
	}

	body, err := json.Marshal(resultReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+twoCaptchaGetResult, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resultResp twoCaptchaGetResultResponse
	if err := json.Unmarshal(respBody, &resultResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resultResp.ErrorID != 0 {
		return nil, s.handleError(resultResp.ErrorCode, resultResp.ErrorDescription, fmt.Sprintf("%d", taskID))
	}

	return &resultResp, nil
}

// Balance retrieves the current account balance.
func (s *TwoCaptcha) Balance(ctx context.Context) (float64, error) {
	if !s.IsConfigured() {
		return 0, fmt.Errorf("2captcha API key not configured")
	}

	reqBody := map[string]string{"clientKey": s.apiKey}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+twoCaptchaGetBalance, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	var balanceResp twoCaptchaBalanceResponse
	if err := json.Unmarshal(respBody, &balanceResp); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}

	if balanceResp.ErrorID != 0 {
		return 0, s.handleError(balanceResp.ErrorCode, balanceResp.ErrorDescription, "")
	}

	return balanceResp.Balance, nil
}

// handleError converts 2Captcha error codes to appropriate error types.
func (s *TwoCaptcha) handleError(code, description, taskID string) error {
	switch code {
	case "ERROR_ZERO_BALANCE":
		return types.NewCaptchaBalanceError(s.Name())
	case "ERROR_NO_SLOT_AVAILABLE":
		return types.NewCaptchaRejectedError(s.Name(), code, "no workers available, try again later")
	case "ERROR_WRONG_GOOGLEKEY", "ERROR_WRONG_SITEKEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid sitekey")
	case "ERROR_CAPTCHA_UNSOLVABLE":
		return types.NewCaptchaRejectedError(s.Name(), code, "captcha could not be solved")
	case "ERROR_BAD_DUPLICATES":
		return types.NewCaptchaRejectedError(s.Name(), code, "too many duplicate requests")
	case "ERROR_KEY_DOES_NOT_EXIST", "ERROR_WRONG_USER_KEY":
		return types.NewCaptchaRejectedError(s.Name(), code, "invalid API key")
	default:
		msg := description
		if msg == "" {
			msg = code
		}
		return &types.CaptchaError{
			Provider: s.Name(),
			TaskID:   taskID,
			Code:     code,
			Message:  fmt.Sprintf("2Captcha error: %s", msg),
			Err:      types.ErrCaptchaSolverRejected,
		}
	}
}
