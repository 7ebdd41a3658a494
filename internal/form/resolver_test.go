package form

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanscovill/jp-work-automation/internal/browser"
	"github.com/ryanscovill/jp-work-automation/internal/browser/browsertest"
	"github.com/ryanscovill/jp-work-automation/internal/mapping"
)

func TestCandidatesOrder(t *testing.T) {
	locs := Candidates("companyName", mapping.FieldText)
	want := []string{
		`[id="companyName"]`,
		`[name="companyName"]`,
		`[ng-model="companyName"]`,
		`[formcontrolname="companyName"]`,
		`[id*="companyName"]`,
		`xpath=//label[contains(normalize-space(.), "companyName")]/following-sibling::input`,
		`[placeholder="companyName"]`,
	}
	got := make([]string, len(locs))
	for i, l := range locs {
		got[i] = l.String()
	}
	assert.Equal(t, want, got)

	sel := Candidates("hours", mapping.FieldSelect)
	require.Len(t, sel, len(want)+1)
	assert.Equal(t, `xpath=//label[contains(normalize-space(.), "hours")]/following-sibling::select`, sel[len(sel)-1].String())
}

func TestResolveStopsAtFirstViableCandidate(t *testing.T) {
	field := mapping.Field{ID: "companyName", DataKey: "company", Type: mapping.FieldText}
	cands := Candidates(field.ID, field.Type)

	page := browsertest.New()
	page.Add(cands[3], &browsertest.Element{Name: "company"})
	page.Add(cands[6], &browsertest.Element{Name: "placeholder-match"})

	res, err := NewResolver(page, nil).Resolve(context.Background(), field)
	require.NoError(t, err)
	assert.Equal(t, cands[3], res.Locator)
	assert.Equal(t, "company", res.First().Name)

	var tried []string
	for _, c := range cands[:4] {
		tried = append(tried, c.String())
	}
	assert.Equal(t, tried, page.Queries())
}

func TestResolveVisibility(t *testing.T) {
	ctx := context.Background()
	page := browsertest.New()
	page.Add(browser.ByID("notes"), &browsertest.Element{Hidden: true})
	page.Add(browser.ByID("agree"), &browsertest.Element{Type: "checkbox", Hidden: true})

	_, err := NewResolver(page, nil).Resolve(ctx, mapping.Field{ID: "notes", Type: mapping.FieldText})
	assert.True(t, errors.Is(err, ErrFieldNotFound), "hidden text input must not resolve")

	res, err := NewResolver(page, nil).Resolve(ctx, mapping.Field{ID: "agree", Type: mapping.FieldCheckbox})
	require.NoError(t, err)
	assert.Equal(t, browser.ByID("agree"), res.Locator)
}

func TestResolveNotFoundAndClosed(t *testing.T) {
	ctx := context.Background()
	page := browsertest.New()
	_, err := NewResolver(page, nil).Resolve(ctx, mapping.Field{ID: "ghost", Type: mapping.FieldText})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldNotFound)
	assert.Contains(t, err.Error(), "ghost")

	page.CloseWindow()
	_, err = NewResolver(page, nil).Resolve(ctx, mapping.Field{ID: "ghost", Type: mapping.FieldText})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFieldNotFound))
	assert.True(t, browser.IsClosedError(err))
}
