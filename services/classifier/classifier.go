package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services/cache"
	"github.com/mailsweep/mailsweep/services/llm"
)

const ErrKindParseError = "PARSE_ERROR"

type ClassifierService struct {
	log          logger.Logger
	llmClient    interfaces.LLMClient
	cacheService *cache.CacheService
}

func NewClassifierService(log logger.Logger, llmClient interfaces.LLMClient, cacheService *cache.CacheService) *ClassifierService {
	return &ClassifierService{
		log:          log,
		llmClient:    llmClient,
		cacheService: cacheService,
	}
}

type batchResult struct {
	index   int
	results []interfaces.Classification
	err     error
}

// ClassifyAll runs the full classify stage: cache split, then parallel LLM
// batches over the uncached remainder. Results arrive in completion order.
// Batch failures are local: the batch's results are forfeited, an error event
// is emitted, and the run continues.
func (s *ClassifierService) ClassifyAll(
	ctx context.Context,
	apiKey string,
	emails []interfaces.EmailHeader,
	m manifest.Manifest,
	emit interfaces.EventEmitter,
) ([]interfaces.Classification, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ClassifierService.ClassifyAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	cached, uncached, err := s.cacheService.Split(ctx, m.JobType, emails)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if len(cached) > 0 {
		emit("pipeline", map[string]interface{}{
			"stage": "dedup",
			"count": len(cached),
			"total": len(emails),
			"msg":   fmt.Sprintf("Cache hit: %d emails already classified", len(cached)),
		})
	}
	emit("pipeline", map[string]interface{}{
		"stage":  "classify",
		"queued": len(uncached),
		"cached": len(cached),
	})

	all := make([]interfaces.Classification, 0, len(emails))
	all = append(all, cached...)
	for _, c := range cached {
		emit("cached", map[string]interface{}{
			"uid":     fmt.Sprintf("%d", c.UID),
			"from":    c.From,
			"subject": c.Subject,
			"action":  string(c.Action),
			"folder":  c.Folder,
			"reason":  c.Reason,
		})
	}

	if len(uncached) == 0 {
		return all, nil
	}

	batchSize := m.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	var batches [][]interfaces.EmailHeader
	for start := 0; start < len(uncached); start += batchSize {
		end := start + batchSize
		if end > len(uncached) {
			end = len(uncached)
		}
		batches = append(batches, uncached[start:end])
	}

	maxWorkers := m.ParallelBatches
	if maxWorkers <= 0 {
		maxWorkers = 3
	}
	if maxWorkers > len(batches) {
		maxWorkers = len(batches)
	}
	emit("pipeline", map[string]interface{}{
		"stage":    "classify",
		"batches":  len(batches),
		"parallel": maxWorkers,
	})

	results := make(chan batchResult, len(batches))
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	for idx, batch := range batches {
		wg.Add(1)
		go func(idx int, batch []interfaces.EmailHeader) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := s.classifyBatch(ctx, apiKey, batch, m)
			results <- batchResult{index: idx, results: res, err: err}
		}(idx, batch)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			code, remediation := classifyFailure(r.err)
			s.log.Warnf("classification batch %d failed: %v", r.index+1, r.err)
			emit("error", map[string]interface{}{
				"code":        code,
				"message":     r.err.Error(),
				"remediation": remediation,
				"batch":       r.index + 1,
			})
			continue
		}
		all = append(all, r.results...)
		emit("pipeline", map[string]interface{}{
			"stage":            "classified",
			"batch":            r.index + 1,
			"count":            len(r.results),
			"total_classified": len(all),
			"total":            len(emails),
		})
	}
	return all, nil
}

func (s *ClassifierService) classifyBatch(ctx context.Context, apiKey string, batch []interfaces.EmailHeader, m manifest.Manifest) ([]interfaces.Classification, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ClassifierService.classifyBatch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	type batchEmail struct {
		UID     uint32 `json:"uid,string"`
		From    string `json:"from"`
		Subject string `json:"subject"`
		Date    string `json:"date"`
	}
	payload := make([]batchEmail, 0, len(batch))
	for _, e := range batch {
		payload = append(payload, batchEmail{UID: e.UID, From: e.From, Subject: e.Subject, Date: e.Date})
	}
	emailsJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to marshal batch")
	}

	systemPrompt := BuildSystemPrompt(m, time.Now())
	text, err := s.llmClient.Complete(ctx, apiKey, systemPrompt, "Classify:\n\n"+string(emailsJSON))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var results []interfaces.Classification
	if err := json.Unmarshal([]byte(llm.StripFence(text)), &results); err != nil {
		tracing.TraceErr(span, err)
		return nil, &parseError{cause: err}
	}

	// Attach sender/subject from the fetched batch so downstream consumers do
	// not depend on the model echoing them back.
	byUID := make(map[uint32]interfaces.EmailHeader, len(batch))
	for _, e := range batch {
		byUID[e.UID] = e
	}
	for i := range results {
		if e, ok := byUID[results[i].UID]; ok {
			results[i].From = e.From
			results[i].Subject = e.Subject
		}
	}

	if err := s.cacheService.Store(ctx, results, batch); err != nil {
		s.log.Warnf("failed to store classification cache: %v", err)
	}
	return results, nil
}

type parseError struct {
	cause error
}

func (e *parseError) Error() string {
	return "model returned malformed JSON: " + e.cause.Error()
}

func (e *parseError) Unwrap() error { return e.cause }

func classifyFailure(err error) (code, remediation string) {
	var pe *parseError
	if errors.As(err, &pe) {
		return ErrKindParseError, "This is usually transient — the batch will be skipped and emails kept safely."
	}
	switch llm.ErrorKind(err) {
	case llm.ErrKindRateLimit:
		return llm.ErrKindRateLimit, "You hit the API rate limit. Reduce parallel batches in Settings or wait a few minutes."
	case llm.ErrKindOverloaded:
		return llm.ErrKindOverloaded, "The API is temporarily overloaded. The run will retry automatically."
	default:
		return llm.ErrKindAPIError, "Check your API key in Settings and ensure you have sufficient credits."
	}
}
