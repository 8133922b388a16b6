package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DEVa-26/Disaster/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocation(id, region string, at time.Time) *models.AllocationRecord {
	return &models.AllocationRecord{
		RecordID:     "rec-" + id,
		IncidentID:   id,
		Kind:         models.KindAllocation,
		DisasterType: models.DisasterFlood,
		Severity:     models.SeverityHigh,
		Region:       region,
		Requested:    models.Quantities{models.ResourceRescueTeam: 3},
		Granted:      models.Quantities{models.ResourceRescueTeam: 2},
		Status:       models.StatusPartial,
		Timestamp:    at,
	}
}

func TestAppend_AllocationAndLookup(t *testing.T) {
	l := New()
	now := time.Now().UTC()
	require.NoError(t, l.Append(allocation("i1", "R1", now)))

	e, ok := l.Lookup("i1")
	require.True(t, ok)
	assert.False(t, e.Released)
	assert.Equal(t, 2, e.Record.Granted[models.ResourceRescueTeam])

	// 返回副本，修改不影响流水
	e.Record.Granted[models.ResourceRescueTeam] = 50
	e, _ = l.Lookup("i1")
	assert.Equal(t, 2, e.Record.Granted[models.ResourceRescueTeam])

	err := l.Append(allocation("i1", "R1", now))
	assert.True(t, errors.Is(err, ErrDuplicateIncident))
	assert.Equal(t, 1, l.Len())

	_, ok = l.Lookup("unknown")
	assert.False(t, ok)
}

func TestAppend_Release(t *testing.T) {
	l := New()
	now := time.Now().UTC()

	release := &models.AllocationRecord{IncidentID: "i1", Kind: models.KindRelease, Status: models.StatusReleased, Timestamp: now}
	assert.True(t, errors.Is(l.Append(release), models.ErrIncidentNotFound))

	require.NoError(t, l.Append(allocation("i1", "R1", now)))
	require.NoError(t, l.Append(release))

	e, ok := l.Lookup("i1")
	require.True(t, ok)
	assert.True(t, e.Released)
	// 原记录保持不变
	assert.Equal(t, models.StatusPartial, e.Record.Status)

	assert.True(t, errors.Is(l.Append(release), models.ErrAlreadyReleased))
	assert.Equal(t, 2, l.Len())
}

func TestQuery_FilterAndOrder(t *testing.T) {
	l := New()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(allocation("i1", "R1", base)))
	require.NoError(t, l.Append(allocation("i2", "R2", base.Add(time.Minute))))
	require.NoError(t, l.Append(allocation("i3", "R1", base.Add(2*time.Minute))))

	all := l.Query(models.QueryFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, []string{"i1", "i2", "i3"}, []string{all[0].IncidentID, all[1].IncidentID, all[2].IncidentID})

	r1 := l.Query(models.QueryFilter{Region: "R1"})
	require.Len(t, r1, 2)
	assert.Equal(t, "i3", r1[1].IncidentID)

	since := base.Add(time.Minute)
	recent := l.Query(models.QueryFilter{Since: &since})
	assert.Len(t, recent, 2)

	assert.Empty(t, l.Query(models.QueryFilter{DisasterType: models.DisasterFire}))
}

func TestQuery_SnapshotWhileAppending(t *testing.T) {
	l := New()
	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				assert.NoError(t, l.Append(allocation(id, "R1", time.Now())))
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		prev := 0
		for i := 0; i < 200; i++ {
			n := len(l.Query(models.QueryFilter{}))
			assert.GreaterOrEqual(t, n, prev)
			prev = n
		}
	}()

	wg.Wait()
	<-done
	assert.Equal(t, writers*perWriter, l.Len())
}

func TestLoad_Replays(t *testing.T) {
	l := New()
	now := time.Now().UTC()
	err := l.Load([]*models.AllocationRecord{
		allocation("i1", "R1", now),
		{RecordID: "rel-i1", IncidentID: "i1", Kind: models.KindRelease, Status: models.StatusReleased, Timestamp: now},
	})
	require.NoError(t, err)

	e, ok := l.Lookup("i1")
	require.True(t, ok)
	assert.True(t, e.Released)

	err = l.Load([]*models.AllocationRecord{allocation("i1", "R1", now)})
	assert.True(t, errors.Is(err, ErrDuplicateIncident))
}
