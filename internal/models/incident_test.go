package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity_ImageModelLabels(t *testing.T) {
	cases := map[string]Severity{
		"Little to None": SeverityLow,
		"Mild":           SeverityModerate,
		"Severe":         SeverityHigh,
		"critical":       SeverityCritical,
		" HIGH ":         SeverityHigh,
	}
	for label, want := range cases {
		got, err := ParseSeverity(label)
		require.NoError(t, err, label)
		assert.Equal(t, want, got, label)
	}

	_, err := ParseSeverity("catastrophic-ish")
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestSeverity_Ordering(t *testing.T) {
	assert.True(t, SeverityLow < SeverityModerate)
	assert.True(t, SeverityModerate < SeverityHigh)
	assert.True(t, SeverityHigh < SeverityCritical)
	assert.False(t, Severity(0).Valid())
	assert.Equal(t, "Severity(9)", Severity(9).String())
}

func TestParseDisasterType(t *testing.T) {
	assert.Equal(t, DisasterFire, ParseDisasterType("Wildfire"))
	assert.Equal(t, DisasterFlood, ParseDisasterType("flood"))
	assert.Equal(t, DisasterEarthquake, ParseDisasterType("Earthquake"))
	assert.Equal(t, DisasterCollapse, ParseDisasterType("building_collapse"))
	assert.Equal(t, DisasterOther, ParseDisasterType("volcano"))
}

func TestIncidentRequest_JSON(t *testing.T) {
	var req IncidentRequest
	err := json.Unmarshal([]byte(`{"incident_id":"i1","disaster_type":"flood","severity":"Severe","location":"Mumbai","source_confidence":0.9}`), &req)
	require.NoError(t, err)
	assert.Equal(t, DisasterFlood, req.DisasterType)
	assert.Equal(t, SeverityHigh, req.Severity)
	require.NoError(t, req.Validate())

	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"severity":"High"`)
	assert.Contains(t, string(out), `"disaster_type":"Flood"`)
}

func TestIncidentRequest_UnknownEnumRejected(t *testing.T) {
	var req IncidentRequest
	err := json.Unmarshal([]byte(`{"incident_id":"i1","disaster_type":"meteor","severity":"High"}`), &req)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestIncidentRequest_Validate(t *testing.T) {
	base := IncidentRequest{IncidentID: "i1", DisasterType: DisasterFire, Severity: SeverityLow}
	require.NoError(t, base.Validate())

	noID := base
	noID.IncidentID = "  "
	assert.True(t, errors.Is(noID.Validate(), ErrInvalidRequest))

	badConf := base
	badConf.SourceConfidence = 1.5
	assert.True(t, errors.Is(badConf.Validate(), ErrInvalidRequest))

	badSev := base
	badSev.Severity = 0
	assert.True(t, errors.Is(badSev.Validate(), ErrInvalidRequest))
}

func TestDecideStatus(t *testing.T) {
	requested := Quantities{ResourceRescueTeam: 3, ResourceShelterBed: 2}

	assert.Equal(t, StatusFulfilled, DecideStatus(requested, Quantities{ResourceRescueTeam: 3, ResourceShelterBed: 2}))
	assert.Equal(t, StatusPartial, DecideStatus(requested, Quantities{ResourceRescueTeam: 2}))
	assert.Equal(t, StatusRejected, DecideStatus(requested, Quantities{}))
	// 空需求视为全部满足
	assert.Equal(t, StatusFulfilled, DecideStatus(Quantities{}, Quantities{}))
}

func TestQueryFilter_Match(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &AllocationRecord{
		IncidentID:   "i1",
		Region:       "R1",
		DisasterType: DisasterFlood,
		Status:       StatusPartial,
		Timestamp:    now,
	}

	assert.True(t, QueryFilter{}.Match(rec))
	assert.True(t, QueryFilter{Region: "R1", DisasterType: DisasterFlood}.Match(rec))
	assert.False(t, QueryFilter{Region: "R2"}.Match(rec))
	assert.False(t, QueryFilter{Status: StatusFulfilled}.Match(rec))

	since := now
	assert.True(t, QueryFilter{Since: &since}.Match(rec))
	until := now
	assert.False(t, QueryFilter{Until: &until}.Match(rec))
}

func TestAllocationRecord_CloneIsDeep(t *testing.T) {
	rec := &AllocationRecord{Granted: Quantities{ResourceRescueTeam: 2}, Requested: Quantities{ResourceRescueTeam: 3}}
	c := rec.Clone()
	c.Granted[ResourceRescueTeam] = 99
	assert.Equal(t, 2, rec.Granted[ResourceRescueTeam])
}
