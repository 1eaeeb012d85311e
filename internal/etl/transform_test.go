package etl_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashcounter/internal/etl"
)

func personRaw() etl.RawRecord {
	return etl.RawRecord{
		"unique_id":           "10249006",
		"collision_id":        "4455765",
		"crash_date":          "2021-09-11T00:00:00.000",
		"crash_time":          "9:35",
		"person_id":           "6650180",
		"person_type":         "Occupant",
		"person_injury":       "Unspecified",
		"vehicle_id":          "19141108",
		"person_age":          "33",
		"position_in_vehicle": "Driver",
		"person_sex":          "M",
	}
}

// ─────────────────────────────────────────────────────────────
// Validate
// ─────────────────────────────────────────────────────────────

func TestValidate_Person(t *testing.T) {
	rec, err := etl.Validate(etl.Person, personRaw(), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(10249006), rec.Data["unique_id"])
	assert.Equal(t, int64(4455765), rec.Data["collision_id"])
	assert.Equal(t, time.Date(2021, 9, 11, 0, 0, 0, 0, time.UTC), rec.Data["crash_date"])
	assert.Equal(t, "9:35", rec.Data["crash_time"])
	assert.Equal(t, int64(33), rec.Data["person_age"])
	assert.Equal(t, "Driver", rec.Data["position_in_vehicle"])
	assert.Equal(t, int64(10249006), rec.Key(etl.Person))

	// Optional fields absent from the payload are stored as NULL.
	v, ok := rec.Data["ped_role"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Len(t, rec.Data, len(etl.Person.Schema.Fields))
}

func TestValidate_AcceptsJSONNumbers(t *testing.T) {
	raw := personRaw()
	raw["unique_id"] = json.Number("9007199254740993")
	raw["person_age"] = float64(41)

	rec, err := etl.Validate(etl.Person, raw, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), rec.Data["unique_id"])
	assert.Equal(t, int64(41), rec.Data["person_age"])
}

func TestValidate_FloatIntegerRange(t *testing.T) {
	raw := personRaw()
	raw["person_age"] = math.Ldexp(1, 62)
	rec, err := etl.Validate(etl.Person, raw, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<62, rec.Data["person_age"])

	raw["person_age"] = float64(math.MinInt64)
	rec, err = etl.Validate(etl.Person, raw, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), rec.Data["person_age"])

	// 2^63 is one past MaxInt64 and must not wrap around.
	raw["person_age"] = math.Ldexp(1, 63)
	_, err = etl.Validate(etl.Person, raw, 0)
	require.ErrorIs(t, err, etl.ErrValidation)
}

func TestValidate_MissingRequiredField(t *testing.T) {
	raw := personRaw()
	delete(raw, "person_type")

	_, err := etl.Validate(etl.Person, raw, 7)
	require.ErrorIs(t, err, etl.ErrValidation)

	var vErr *etl.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "person", vErr.Dataset)
	assert.Equal(t, 7, vErr.Index)
	assert.Equal(t, "person_type", vErr.Field)
	assert.Equal(t, "required field missing", vErr.Reason)
}

func TestValidate_BlankNumericIsAbsent(t *testing.T) {
	raw := personRaw()
	raw["person_age"] = " "
	rec, err := etl.Validate(etl.Person, raw, 0)
	require.NoError(t, err)
	assert.Nil(t, rec.Data["person_age"])

	raw["unique_id"] = ""
	_, err = etl.Validate(etl.Person, raw, 0)
	require.ErrorIs(t, err, etl.ErrValidation)
}

func TestValidate_TypeMismatch(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
	}{
		{"non-numeric integer", "person_age", "thirty"},
		{"fractional integer", "person_age", float64(33.5)},
		{"text given a number", "person_sex", json.Number("1")},
		{"text given an object", "person_sex", map[string]any{"x": "y"}},
		{"malformed timestamp", "crash_date", "09/11/2021"},
		{"timestamp given a number", "crash_date", json.Number("20210911")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := personRaw()
			raw[tt.field] = tt.value

			_, err := etl.Validate(etl.Person, raw, 2)
			var vErr *etl.ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
			assert.Equal(t, "validation", etl.ErrorKind(err))
		})
	}
}

func TestValidate_TimestampLayouts(t *testing.T) {
	want := time.Date(2023, 4, 2, 13, 5, 0, 0, time.UTC)
	for _, s := range []string{
		"2023-04-02T13:05:00.000",
		"2023-04-02T13:05:00",
		"2023-04-02T13:05:00Z",
		"2023-04-02T15:05:00+02:00",
	} {
		raw := personRaw()
		raw["crash_date"] = s
		rec, err := etl.Validate(etl.Person, raw, 0)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(rec.Data["crash_date"].(time.Time)), s)
	}
}

func TestValidate_CrashLocationFlattened(t *testing.T) {
	raw := etl.RawRecord{
		"collision_id": "4456314",
		"crash_date":   "2021-09-11T00:00:00.000",
		"crash_time":   "2:39",
		"borough":      "BROOKLYN",
		"latitude":     "40.667202",
		"longitude":    "-73.8665",
		"location": map[string]any{
			"latitude":      "40.667202",
			"longitude":     "-73.8665",
			"human_address": `{"address": "", "city": "", "state": "", "zip": ""}`,
		},
		"number_of_persons_injured": "2",
	}

	rec, err := etl.Validate(etl.Crash, raw, 0)
	require.NoError(t, err)
	assert.Equal(t, "(40.667202, -73.8665)", rec.Data["location"])
	assert.Equal(t, 40.667202, rec.Data["latitude"])
	assert.Equal(t, int64(2), rec.Data["number_of_persons_injured"])
	assert.Nil(t, rec.Data["off_street_name"])
}

func TestValidate_CrashLocationMalformed(t *testing.T) {
	raw := etl.RawRecord{
		"collision_id": "1",
		"crash_date":   "2021-09-11T00:00:00.000",
		"crash_time":   "2:39",
		"location":     map[string]any{"latitude": "40.1"},
	}
	_, err := etl.Validate(etl.Crash, raw, 0)
	var vErr *etl.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "location", vErr.Field)
}

// ─────────────────────────────────────────────────────────────
// ValidatePage
// ─────────────────────────────────────────────────────────────

func TestValidatePage_FirstBadRecordRejectsPage(t *testing.T) {
	good := personRaw()
	bad := personRaw()
	delete(bad, "crash_time")

	records, err := etl.ValidatePage(etl.Person, []etl.RawRecord{good, good, bad, good})
	assert.Nil(t, records)

	var vErr *etl.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, 2, vErr.Index)
}

func TestValidatePage_Empty(t *testing.T) {
	records, err := etl.ValidatePage(etl.Vehicle, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// ─────────────────────────────────────────────────────────────
// Descriptors
// ─────────────────────────────────────────────────────────────

func TestSelect(t *testing.T) {
	all, err := etl.Select("all", etl.Datasets())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"person", "crash", "vehicle"}, []string{all[0].Name, all[1].Name, all[2].Name})

	one, err := etl.Select(" Crash ", etl.Datasets())
	require.NoError(t, err)
	assert.Equal(t, []*etl.Descriptor{etl.Crash}, one)

	_, err = etl.Select("collisions", etl.Datasets())
	assert.Error(t, err)
}

func TestDescriptors_KeysAreRequiredIntegers(t *testing.T) {
	for _, d := range etl.Datasets() {
		key := d.KeyField()
		assert.Equal(t, d.PrimaryKey, key.Name, d.Name)
		assert.Equal(t, etl.FieldInteger, key.Type, d.Name)
		assert.True(t, key.Required, d.Name)

		filter, ok := d.Schema.Field(d.FilterField)
		assert.True(t, ok, d.Name)
		assert.True(t, filter.Required, d.Name)
	}
}

func TestDescriptor_WithEndpoint(t *testing.T) {
	c := etl.Person.WithEndpoint("http://localhost:9000/f55k-p6yu.json")
	assert.Equal(t, "http://localhost:9000/f55k-p6yu.json", c.Endpoint)
	assert.NotEqual(t, c.Endpoint, etl.Person.Endpoint)
	assert.Equal(t, etl.Person.Schema.FieldNames(), c.Schema.FieldNames())
}
