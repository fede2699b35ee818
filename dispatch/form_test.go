package dispatch

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormFromValues(t *testing.T) {
	form := FormFromValues(url.Values{"name": {"a", "b"}})
	assert.Equal(t, "a", form.Get("name"))
	assert.Equal(t, "", form.Get("missing"))
}

func TestFormPop(t *testing.T) {
	form := Form{"page": {"2"}}
	assert.Equal(t, "2", form.Pop("page"))
	assert.NotContains(t, form, "page")
	assert.Equal(t, "", form.Pop("page"))
}

func TestFormSortedKeys(t *testing.T) {
	form := Form{"c": {"1"}, "a": {"2"}, "b": {"3"}}
	assert.Equal(t, []string{"a", "b", "c"}, form.SortedKeys())
}

func TestFormListKeys(t *testing.T) {
	assert.True(t, Form{"teams[]": {"t1"}}.HasListKeys())
	assert.False(t, Form{"teams": {"t1"}}.HasListKeys())
}

func TestFormFilters(t *testing.T) {
	filters := Form{"name": {"Bernardo"}, "age": {"35"}}.Filters()
	assert.Equal(t, map[string]string{"name": "Bernardo", "age": "35"}, filters)
}
