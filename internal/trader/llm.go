package trader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aquant/internal/logger"
	"aquant/internal/pkg/retry"
)

// ChatClient 聊天补全后端，AI 决策与测试替身共用。
type ChatClient interface {
	CallWithMessages(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAIChatClient 兼容 OpenAI / DeepSeek / Qwen 的 /v1/chat/completions 接口。
type OpenAIChatClient struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	HTTPClient  *http.Client
}

func (c *OpenAIChatClient) endpoint() string {
	url := c.BaseURL
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	// 容忍配置里把完整路径也写进来的情况
	url = strings.TrimRight(url, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) CallWithMessages(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	httpc := c.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: timeout}
	}
	attempts := c.MaxRetries + 1
	if attempts < 1 {
		attempts = 3
	}

	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})
	temperature := c.Temperature
	if temperature == 0 {
		temperature = 0.5
	}
	body, _ := json.Marshal(map[string]any{
		"model":       c.Model,
		"messages":    messages,
		"temperature": temperature,
	})

	url := c.endpoint()
	var out string
	err := retry.Do(ctx, attempts, time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		resp, err := httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			err := fmt.Errorf("模型请求失败 status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data)))
			// 429/5xx 才值得重试，其余是请求本身的问题
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
				return err
			}
			return retry.Permanent(err)
		}
		var r struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return retry.Permanent(fmt.Errorf("响应解析失败: %w", err))
		}
		if len(r.Choices) == 0 {
			return retry.Permanent(fmt.Errorf("响应不含任何 choice"))
		}
		out = r.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		logger.Warnf("[AI] 请求 %s 失败: %v", url, err)
		return "", err
	}
	return out, nil
}
