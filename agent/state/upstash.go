package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	ledgerKeyPrefix  = "concierge:conv:"
	ledgerKeySuffix  = ":executions"
	defaultLedgerTTL = 7 * 24 * time.Hour
	maxReplyBytes    = 2 << 20
)

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL"`
	Token   string        `envconfig:"TOKEN"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s"`
	TTL     time.Duration `envconfig:"TTL" default:"168h"`
	Prefix  string        `envconfig:"PREFIX"`
}

// Enabled reports whether Upstash credentials are configured.
func (c UpstashRedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Token) != ""
}

type StoreOption func(*UpstashRedisStore)

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.rest.http = client
		}
	}
}

// UpstashRedisStore keeps each ledger as one JSON string value in Upstash
// Redis, refreshed to the configured TTL on every save.
type UpstashRedisStore struct {
	rest   restClient
	prefix string
	ttl    time.Duration
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("upstash redis url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("upstash redis ttl must not be negative")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &UpstashRedisStore{
		rest: restClient{
			endpoint: endpoint,
			token:    token,
			http:     &http.Client{Timeout: timeout},
		},
		prefix: ledgerKeyPrefix,
		ttl:    cfg.TTL,
	}
	if p := strings.TrimSpace(cfg.Prefix); p != "" {
		s.prefix = p
	}
	if s.ttl == 0 {
		s.ttl = defaultLedgerTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, conversationID string) (*ConversationState, error) {
	key, err := s.key(conversationID)
	if err != nil {
		return nil, err
	}

	result, err := s.rest.call(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if isNull(result) {
		return nil, ErrStateNotFound
	}

	// GET replies with the stored value as a JSON string.
	var value string
	if err := json.Unmarshal(result, &value); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", key, err)
	}
	st := new(ConversationState)
	if err := json.Unmarshal([]byte(value), st); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", key, err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", key, err)
	}
	return st, nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *ConversationState) error {
	if st == nil {
		return ErrNilState
	}
	if err := st.Validate(); err != nil {
		return err
	}
	key, err := s.key(st.ConversationID)
	if err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.Touch(time.Now())
	}

	value, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", key, err)
	}
	_, err = s.rest.call(ctx, "SET", key, string(value), "EX", expirySeconds(s.ttl))
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, conversationID string) error {
	key, err := s.key(conversationID)
	if err != nil {
		return err
	}
	_, err = s.rest.call(ctx, "DEL", key)
	return err
}

func (s *UpstashRedisStore) key(conversationID string) (string, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return "", ErrInvalidConversation
	}
	return s.prefix + id + ledgerKeySuffix, nil
}

// restClient speaks the Upstash REST protocol: one command per POST, encoded
// as a JSON array of strings.
type restClient struct {
	endpoint string
	token    string
	http     *http.Client
}

func (c restClient) call(ctx context.Context, args ...string) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstash %s: %w", args[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("upstash %s: read reply: %w", args[0], err)
	}

	var reply struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	// Upstash reports command errors in the body, sometimes with a 4xx.
	if jsonErr := json.Unmarshal(raw, &reply); jsonErr == nil && reply.Error != "" {
		return nil, fmt.Errorf("upstash %s: %s", args[0], reply.Error)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("upstash %s: status %d", args[0], resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("upstash %s: decode reply: %w", args[0], err)
	}
	return reply.Result, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// expirySeconds rounds up to whole seconds, minimum one.
func expirySeconds(ttl time.Duration) string {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
