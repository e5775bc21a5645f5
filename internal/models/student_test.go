package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateAge(t *testing.T) {
	now := time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 16, CalculateAge(time.Date(2010, time.May, 15, 0, 0, 0, 0, time.UTC), now))
	// Birthday later this year: still one year younger.
	assert.Equal(t, 15, CalculateAge(time.Date(2010, time.September, 1, 0, 0, 0, 0, time.UTC), now))
	// Birthday today counts as completed.
	assert.Equal(t, 16, CalculateAge(time.Date(2010, time.August, 29, 0, 0, 0, 0, time.UTC), now))
}

func TestAgeGroupBoundaries(t *testing.T) {
	cases := map[int]AgeGroup{
		0:  AgeGroupUnder7,
		6:  AgeGroupUnder7,
		7:  AgeGroup7To10,
		10: AgeGroup7To10,
		11: AgeGroup11To13,
		13: AgeGroup11To13,
		14: AgeGroup14Plus,
		30: AgeGroup14Plus,
	}
	for age, want := range cases {
		assert.Equal(t, want, AgeGroupFor(age), "age %d", age)
	}
}

func TestParseStatusAcceptsBothRejectedSpellings(t *testing.T) {
	for _, raw := range []string{"رُفِض", "مرفوض", "rejected"} {
		status, ok := ParseStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, StatusRejected, status, raw)
	}

	_, ok := ParseStatus("unknown")
	assert.False(t, ok)
}

func TestParseGender(t *testing.T) {
	gender, ok := ParseGender("أنثى")
	assert.True(t, ok)
	assert.Equal(t, GenderFemale, gender)

	_, ok = ParseGender("")
	assert.False(t, ok)
}

func TestStatusLabelRoundTrip(t *testing.T) {
	for _, status := range []Status{StatusJoined, StatusPostponed, StatusMoved, StatusRejected} {
		parsed, ok := ParseStatus(status.Label())
		assert.True(t, ok, status)
		assert.Equal(t, status, parsed)
	}
}

func TestStudentPatchIsZero(t *testing.T) {
	assert.True(t, StudentPatch{}.IsZero())

	name := "x"
	assert.False(t, StudentPatch{FullName: &name}.IsZero())
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("خاتم"))
	assert.True(t, ValidLevel("1 إبتدائي"))
	assert.False(t, ValidLevel("غير موجود"))
}
