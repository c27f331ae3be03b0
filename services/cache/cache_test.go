package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/repository"
)

func setupService(t *testing.T) (*CacheService, *repository.Repositories) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.MigrateDB(db))
	repos := repository.InitRepositories(db)
	return NewCacheService(repos.CacheRepository, repos.SettingsRepository), repos
}

func TestFingerprintInvariance(t *testing.T) {
	base := Fingerprint("Alice <alice@example.com>", "quarterly report")

	assert.Equal(t, base, Fingerprint("Alice <alice@example.com>", "Re: Quarterly Report"))
	assert.Equal(t, base, Fingerprint("Alice <alice@example.com>", "FWD: quarterly   report"))
	assert.Equal(t, base, Fingerprint("Alice <alice@example.com>", "  Quarterly\treport  "))
	assert.Equal(t, base, Fingerprint("ALICE <ALICE@EXAMPLE.COM>", "quarterly report"))

	assert.NotEqual(t, base, Fingerprint("bob@example.com", "quarterly report"))
	assert.NotEqual(t, base, Fingerprint("Alice <alice@example.com>", "monthly report"))
}

func TestSplitReturnsCachedWithinTTL(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	emails := []interfaces.EmailHeader{
		{UID: 1, From: "shop@example.com", Subject: "Your order"},
		{UID: 2, From: "new@example.com", Subject: "Hello"},
	}
	require.NoError(t, svc.Store(ctx, []interfaces.Classification{
		{UID: 1, Action: models.ActionReceipt, Folder: "Personal/Businesses/Receipts/Shop", Reason: "order confirmation"},
	}, emails))

	cached, uncached, err := svc.Split(ctx, manifest.JobTypeInboxCleanup, emails)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	require.Len(t, uncached, 1)
	assert.Equal(t, uint32(1), cached[0].UID)
	assert.Equal(t, models.ActionReceipt, cached[0].Action)
	assert.Equal(t, "Personal/Businesses/Receipts/Shop", cached[0].Folder)
	assert.True(t, cached[0].FromCache)
	assert.Equal(t, uint32(2), uncached[0].UID)
}

func TestSplitZeroTTLIsAlwaysMiss(t *testing.T) {
	svc, repos := setupService(t)
	ctx := context.Background()

	emails := []interfaces.EmailHeader{{UID: 1, From: "a@example.com", Subject: "s"}}
	require.NoError(t, svc.Store(ctx, []interfaces.Classification{{UID: 1, Action: models.ActionKeep}}, emails))
	require.NoError(t, repos.SettingsRepository.Save(ctx, models.SettingCacheTTLDays, "0"))

	cached, uncached, err := svc.Split(ctx, manifest.JobTypeInboxCleanup, emails)
	require.NoError(t, err)
	assert.Empty(t, cached)
	assert.Len(t, uncached, 1)
}

func TestSplitFolderDrainDiscardsCachedKeep(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	emails := []interfaces.EmailHeader{
		{UID: 10, From: "friend@example.com", Subject: "Lunch"},
		{UID: 11, From: "promo@example.com", Subject: "Sale"},
	}
	require.NoError(t, svc.Store(ctx, []interfaces.Classification{
		{UID: 10, Action: models.ActionKeep, Reason: "personal"},
		{UID: 11, Action: models.ActionMarketing, Reason: "promo"},
	}, emails))

	// Inbox policy serves both from cache.
	cached, uncached, err := svc.Split(ctx, manifest.JobTypeInboxCleanup, emails)
	require.NoError(t, err)
	assert.Len(t, cached, 2)
	assert.Empty(t, uncached)

	// Folder drain re-classifies the keep.
	cached, uncached, err = svc.Split(ctx, manifest.JobTypeFolderCleanup, emails)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	require.Len(t, uncached, 1)
	assert.Equal(t, models.ActionMarketing, cached[0].Action)
	assert.Equal(t, uint32(10), uncached[0].UID)
}

func TestCachedHitIsByteIdentical(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	emails := []interfaces.EmailHeader{{UID: 5, From: "bank@example.com", Subject: "Statement"}}
	stored := interfaces.Classification{
		UID: 5, Action: models.ActionFinance,
		Folder: "Personal/Records/Finance", Reason: "monthly statement",
	}
	require.NoError(t, svc.Store(ctx, []interfaces.Classification{stored}, emails))

	cached, _, err := svc.Split(ctx, manifest.JobTypeInboxCleanup, emails)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, stored.Action, cached[0].Action)
	assert.Equal(t, stored.Folder, cached[0].Folder)
	assert.Equal(t, stored.Reason, cached[0].Reason)
}

func TestStoreSkipsUnknownUIDs(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	emails := []interfaces.EmailHeader{{UID: 1, From: "a@example.com", Subject: "s"}}
	require.NoError(t, svc.Store(ctx, []interfaces.Classification{
		{UID: 99, Action: models.ActionSpam, Reason: "no matching email"},
	}, emails))

	count, err := svc.ActiveEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
