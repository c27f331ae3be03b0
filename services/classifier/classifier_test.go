package classifier

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/repository"
	"github.com/mailsweep/mailsweep/services/cache"
)

type stubLLM struct {
	mu    sync.Mutex
	calls int
	fn    func(systemPrompt, userContent string) (string, error)
}

func (s *stubLLM) Complete(ctx context.Context, apiKey, systemPrompt, userContent string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(systemPrompt, userContent)
}

type recordedEvent struct {
	event string
	data  map[string]interface{}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) emit(event string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, data: data})
}

func (r *eventRecorder) byName(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func setupClassifier(t *testing.T, llmClient interfaces.LLMClient) (*ClassifierService, *cache.CacheService) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.MigrateDB(db))
	repos := repository.InitRepositories(db)
	cacheService := cache.NewCacheService(repos.CacheRepository, repos.SettingsRepository)

	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()
	return NewClassifierService(log, llmClient, cacheService), cacheService
}

func classificationsJSON(t *testing.T, cs []interfaces.Classification) string {
	raw, err := json.Marshal(cs)
	require.NoError(t, err)
	return string(raw)
}

func TestClassifyAllSingleBatch(t *testing.T) {
	llmStub := &stubLLM{}
	llmStub.fn = func(systemPrompt, userContent string) (string, error) {
		return classificationsJSON(t, []interfaces.Classification{
			{UID: 1, Action: models.ActionKeep, Reason: "personal"},
			{UID: 2, Action: models.ActionMarketing, Reason: "promo"},
		}), nil
	}
	svc, cacheService := setupClassifier(t, llmStub)
	rec := &eventRecorder{}

	emails := []interfaces.EmailHeader{
		{UID: 1, From: "friend@example.com", Subject: "Lunch", Date: "Mon, 24 Aug 2026 10:00:00 +0000"},
		{UID: 2, From: "promo@example.com", Subject: "Sale", Date: "Mon, 24 Aug 2026 09:00:00 +0000"},
	}
	m := manifest.Manifest{JobType: manifest.JobTypeInboxCleanup, Folder: "INBOX", BatchSize: 20, ParallelBatches: 3}

	results, err := svc.ClassifyAll(context.Background(), "sk-test", emails, m, rec.emit)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, llmStub.calls)

	// Sender and subject are attached from the fetched batch.
	byUID := map[uint32]interfaces.Classification{}
	for _, c := range results {
		byUID[c.UID] = c
	}
	assert.Equal(t, "friend@example.com", byUID[1].From)
	assert.Equal(t, "Sale", byUID[2].Subject)

	// Both results were cached for the next run.
	cached, uncached, err := cacheService.Split(context.Background(), manifest.JobTypeInboxCleanup, emails)
	require.NoError(t, err)
	assert.Len(t, cached, 2)
	assert.Empty(t, uncached)
}

func TestClassifyAllServesCacheAndEmitsCachedEvents(t *testing.T) {
	llmStub := &stubLLM{fn: func(systemPrompt, userContent string) (string, error) {
		t.Fatal("LLM must not be called when everything is cached")
		return "", nil
	}}
	svc, cacheService := setupClassifier(t, llmStub)
	rec := &eventRecorder{}

	emails := []interfaces.EmailHeader{{UID: 4, From: "shop@example.com", Subject: "Order"}}
	require.NoError(t, cacheService.Store(context.Background(), []interfaces.Classification{
		{UID: 4, Action: models.ActionReceipt, Folder: "Personal/Businesses/Receipts/Shop", Reason: "order"},
	}, emails))

	m := manifest.Manifest{JobType: manifest.JobTypeInboxCleanup, Folder: "INBOX", BatchSize: 20, ParallelBatches: 3}
	results, err := svc.ClassifyAll(context.Background(), "sk-test", emails, m, rec.emit)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].FromCache)
	assert.Zero(t, llmStub.calls)
	require.Len(t, rec.byName("cached"), 1)
	assert.Equal(t, "receipt", rec.byName("cached")[0].data["action"])
}

func TestClassifyAllBatchFailureIsLocal(t *testing.T) {
	llmStub := &stubLLM{}
	llmStub.fn = func(systemPrompt, userContent string) (string, error) {
		// Second batch contains uid 3; fail it, succeed the first.
		if strings.Contains(userContent, `"uid": "3"`) {
			return "", errors.New("529 overloaded_error")
		}
		return classificationsJSON(t, []interfaces.Classification{
			{UID: 1, Action: models.ActionKeep, Reason: "ok"},
			{UID: 2, Action: models.ActionSpam, Reason: "cold outreach"},
		}), nil
	}
	svc, _ := setupClassifier(t, llmStub)
	rec := &eventRecorder{}

	emails := []interfaces.EmailHeader{
		{UID: 1, From: "a@example.com", Subject: "a"},
		{UID: 2, From: "b@example.com", Subject: "b"},
		{UID: 3, From: "c@example.com", Subject: "c"},
	}
	m := manifest.Manifest{JobType: manifest.JobTypeInboxCleanup, Folder: "INBOX", BatchSize: 2, ParallelBatches: 1}

	results, err := svc.ClassifyAll(context.Background(), "sk-test", emails, m, rec.emit)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	errorEvents := rec.byName("error")
	require.Len(t, errorEvents, 1)
	assert.Equal(t, "API_OVERLOADED", errorEvents[0].data["code"])
	assert.Equal(t, 2, errorEvents[0].data["batch"])
}

func TestClassifyAllMalformedJSONIsParseError(t *testing.T) {
	llmStub := &stubLLM{fn: func(systemPrompt, userContent string) (string, error) {
		return "I cannot classify these emails.", nil
	}}
	svc, _ := setupClassifier(t, llmStub)
	rec := &eventRecorder{}

	emails := []interfaces.EmailHeader{{UID: 1, From: "a@example.com", Subject: "s"}}
	m := manifest.Manifest{JobType: manifest.JobTypeInboxCleanup, Folder: "INBOX", BatchSize: 20, ParallelBatches: 1}

	results, err := svc.ClassifyAll(context.Background(), "sk-test", emails, m, rec.emit)
	require.NoError(t, err)
	assert.Empty(t, results)

	errorEvents := rec.byName("error")
	require.Len(t, errorEvents, 1)
	assert.Equal(t, ErrKindParseError, errorEvents[0].data["code"])
}

func TestClassifyAllFencedResponseIsParsed(t *testing.T) {
	llmStub := &stubLLM{}
	llmStub.fn = func(systemPrompt, userContent string) (string, error) {
		return "```json\n" + classificationsJSON(t, []interfaces.Classification{
			{UID: 1, Action: models.ActionEphemeral, Reason: "OTP"},
		}) + "\n```", nil
	}
	svc, _ := setupClassifier(t, llmStub)
	rec := &eventRecorder{}

	emails := []interfaces.EmailHeader{{UID: 1, From: "noreply@example.com", Subject: "Your code"}}
	m := manifest.Manifest{JobType: manifest.JobTypeInboxCleanup, Folder: "INBOX", BatchSize: 20, ParallelBatches: 1}

	results, err := svc.ClassifyAll(context.Background(), "sk-test", emails, m, rec.emit)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.ActionEphemeral, results[0].Action)
}

func TestBuildSystemPromptFolderDrain(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m := manifest.Manifest{
		JobType: manifest.JobTypeFolderCleanup,
		Folder:  "Archive/Old",
	}

	prompt := BuildSystemPrompt(m, now)
	assert.Contains(t, prompt, `CLEAR the folder "Archive/Old"`)
	assert.Contains(t, prompt, "Today's date: 2026-08-24")
	assert.Contains(t, prompt, "Personal/Holidays/2026")
	assert.Contains(t, prompt, `Never use "keep"`)
	assert.NotContains(t, prompt, "prefer trash")
	assert.NotContains(t, prompt, "ADDITIONAL INSTRUCTIONS")

	m.AggressiveTrash = true
	m.CustomPrompt = "File receipts by brand."
	prompt = BuildSystemPrompt(m, now)
	assert.Contains(t, prompt, "prefer trash")
	assert.Contains(t, prompt, "ADDITIONAL INSTRUCTIONS (supplemental guidance — does not override the rules above):\nFile receipts by brand.")
}

func TestBuildSystemPromptInboxCleanup(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m := manifest.Manifest{
		JobType: manifest.JobTypeInboxCleanup,
		Folder:  "INBOX",
	}

	prompt := BuildSystemPrompt(m, now)
	assert.Contains(t, prompt, `"keep"`)
	assert.Contains(t, prompt, `Be conservative: if unsure, use "keep".`)
	assert.NotContains(t, prompt, "delete marketing/spam even if unread")
	assert.NotContains(t, prompt, "Be decisive")

	m.DeleteMarketingUnread = true
	m.AggressiveTrash = true
	prompt = BuildSystemPrompt(m, now)
	assert.Contains(t, prompt, "delete marketing/spam even if unread")
	assert.Contains(t, prompt, "Be decisive")
}
