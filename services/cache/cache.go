package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

var (
	replyPrefixRegex = regexp.MustCompile(`(?i)\b(re|fwd?|fw):\s*`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// Fingerprint is the dedup key: SHA-256 over lowercased sender plus the
// normalised subject. Normalisation strips Re:/Fwd: prefixes, collapses
// whitespace and lowercases, so replies in the same thread share a key.
func Fingerprint(fromAddr, subject string) string {
	norm := replyPrefixRegex.ReplaceAllString(strings.ToLower(strings.TrimSpace(subject)), "")
	norm = whitespaceRegex.ReplaceAllString(norm, " ")
	key := strings.ToLower(strings.TrimSpace(fromAddr)) + "|||" + norm
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type CacheService struct {
	cacheRepository    interfaces.CacheRepository
	settingsRepository interfaces.SettingsRepository
}

func NewCacheService(cacheRepository interfaces.CacheRepository, settingsRepository interfaces.SettingsRepository) *CacheService {
	return &CacheService{
		cacheRepository:    cacheRepository,
		settingsRepository: settingsRepository,
	}
}

// Split partitions a fetched batch into cached classifications and uncached
// messages. Folder-drain runs discard cached keep verdicts: those were filed
// under inbox policy, and a drain never keeps.
func (s *CacheService) Split(ctx context.Context, jobType manifest.JobType, emails []interfaces.EmailHeader) ([]interfaces.Classification, []interfaces.EmailHeader, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheService.Split")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	cutoff, err := s.cutoff(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}

	hashes := make([]string, 0, len(emails))
	for _, e := range emails {
		hashes = append(hashes, Fingerprint(e.From, e.Subject))
	}
	hits, err := s.cacheRepository.Lookup(ctx, hashes, cutoff)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, errors.Wrap(err, "cache lookup failed")
	}

	var cached []interfaces.Classification
	var uncached []interfaces.EmailHeader
	for i, e := range emails {
		entry, ok := hits[hashes[i]]
		if ok && jobType == manifest.JobTypeFolderCleanup && entry.Action == string(models.ActionKeep) {
			ok = false
		}
		if !ok {
			uncached = append(uncached, e)
			continue
		}
		cached = append(cached, interfaces.Classification{
			UID:       e.UID,
			Action:    models.ActionKind(entry.Action),
			Folder:    entry.Folder,
			Reason:    entry.Reason,
			From:      e.From,
			Subject:   e.Subject,
			FromCache: true,
		})
	}
	return cached, uncached, nil
}

// Store persists freshly computed classifications keyed by the fingerprint of
// the matching fetched message. Classifications without a matching UID are
// dropped.
func (s *CacheService) Store(ctx context.Context, classifications []interfaces.Classification, emails []interfaces.EmailHeader) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheService.Store")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	byUID := make(map[uint32]interfaces.EmailHeader, len(emails))
	for _, e := range emails {
		byUID[e.UID] = e
	}

	entries := make([]models.CacheEntry, 0, len(classifications))
	now := time.Now().UTC()
	for _, c := range classifications {
		e, ok := byUID[c.UID]
		if !ok {
			continue
		}
		action := c.Action
		if action == "" {
			action = models.ActionKeep
		}
		entries = append(entries, models.CacheEntry{
			Hash:         Fingerprint(e.From, e.Subject),
			Action:       string(action),
			Folder:       c.Folder,
			Reason:       c.Reason,
			ClassifiedAt: now,
		})
	}
	if err := s.cacheRepository.Store(ctx, entries); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *CacheService) ActiveEntries(ctx context.Context) (int64, error) {
	cutoff, err := s.cutoff(ctx)
	if err != nil {
		return 0, err
	}
	return s.cacheRepository.CountActive(ctx, cutoff)
}

func (s *CacheService) Clear(ctx context.Context) error {
	return s.cacheRepository.Clear(ctx)
}

func (s *CacheService) cutoff(ctx context.Context) (time.Time, error) {
	ttlDays, err := s.settingsRepository.GetInt(ctx, models.SettingCacheTTLDays, 30)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().UTC().Add(-time.Duration(ttlDays) * 24 * time.Hour), nil
}
