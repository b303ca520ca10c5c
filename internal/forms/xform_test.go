package forms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Emtrip/internal/services"
)

const tripModel = `<model>
  <instance>
    <data id="trip_confirm">
      <purpose/>
      <mode/>
      <note/>
    </data>
  </instance>
  <bind nodeset="/data/purpose" required="true()"/>
  <bind nodeset="/data/mode" required="true()"/>
  <bind nodeset="/data/note" required="false()"/>
</model>`

func newForm(t *testing.T, instance string) *XForm {
	t.Helper()
	f, err := New(services.FormSelector, services.FormData{ModelStr: tripModel, InstanceStr: instance}, nil)
	require.NoError(t, err)
	return f
}

func TestXFormDefaultModelIsIncomplete(t *testing.T) {
	f := newForm(t, "")
	require.Empty(t, f.Init())

	ok, err := f.Validate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestXFormRestoredInstanceValidates(t *testing.T) {
	f := newForm(t, `<data id="trip_confirm"><purpose>work</purpose><mode>bike</mode><note/></data>`)
	require.Empty(t, f.Init())

	ok, err := f.Validate(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `<data id="trip_confirm"><purpose>work</purpose><mode>bike</mode><note></note></data>`, f.DataStr())
}

func TestXFormInstanceRootMismatch(t *testing.T) {
	f := newForm(t, `<other><purpose>work</purpose></other>`)
	loadErrors := f.Init()
	require.Len(t, loadErrors, 1)
	assert.Contains(t, loadErrors[0], "does not match")

	_, err := f.Validate(context.Background())
	assert.ErrorIs(t, err, errNotInitialized)
}

func TestXFormBadModel(t *testing.T) {
	f, err := New(services.FormSelector, services.FormData{ModelStr: "<model>"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, f.Init())
}

func TestXFormModelWithoutInstance(t *testing.T) {
	f, err := New(services.FormSelector, services.FormData{ModelStr: "<model><bind nodeset=\"/x\"/></model>"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"model: no primary instance"}, f.Init())
}

func TestXFormValidateHonoursContext(t *testing.T) {
	f := newForm(t, "")
	require.Empty(t, f.Init())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Validate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresSelector(t *testing.T) {
	_, err := Factory("  ", services.FormData{}, nil)
	assert.Error(t, err)
}

const enketoModel = `<model xmlns:odk="http://www.opendatakit.org/xforms">
  <instance>
    <data xmlns:jr="http://openrosa.org/javarosa" xmlns:orx="http://openrosa.org/xforms" id="trip_confirm" orx:version="3">
      <purpose/>
      <mode jr:preload="none"/>
      <orx:meta>
        <orx:instanceID>uuid:1b3c</orx:instanceID>
      </orx:meta>
    </data>
  </instance>
  <bind nodeset="/data/purpose" required="true()"/>
</model>`

func TestXFormNamespacedInstanceSurvivesRestore(t *testing.T) {
	first, err := New(services.FormSelector, services.FormData{ModelStr: enketoModel}, nil)
	require.NoError(t, err)
	require.Empty(t, first.Init())
	saved := first.DataStr()
	assert.Equal(t, `<data xmlns:jr="http://openrosa.org/javarosa" xmlns:orx="http://openrosa.org/xforms" id="trip_confirm" orx:version="3">`+
		`<purpose></purpose><mode jr:preload="none"></mode>`+
		`<orx:meta><orx:instanceID>uuid:1b3c</orx:instanceID></orx:meta></data>`, saved)

	restored, err := New(services.FormSelector, services.FormData{ModelStr: enketoModel, InstanceStr: saved}, nil)
	require.NoError(t, err)
	require.Empty(t, restored.Init())
	assert.Equal(t, saved, restored.DataStr())

	again, err := New(services.FormSelector, services.FormData{ModelStr: enketoModel, InstanceStr: restored.DataStr()}, nil)
	require.NoError(t, err)
	require.Empty(t, again.Init())
	assert.Equal(t, saved, again.DataStr())
}

func TestXFormEscapesTextAndAttributes(t *testing.T) {
	f := newForm(t, `<data id="a&amp;b"><purpose>work &lt;late&gt;</purpose><mode>walk</mode><note/></data>`)
	require.Empty(t, f.Init())
	out := f.DataStr()
	assert.Equal(t, `<data id="a&amp;b"><purpose>work &lt;late&gt;</purpose><mode>walk</mode><note></note></data>`, out)

	restored := newForm(t, out)
	require.Empty(t, restored.Init())
	assert.Equal(t, out, restored.DataStr())
}

func TestXFormMismatchedEndTag(t *testing.T) {
	f := newForm(t, `<data><purpose>work</mode></data>`)
	loadErrors := f.Init()
	require.Len(t, loadErrors, 1)
	assert.Contains(t, loadErrors[0], "closed by")
}
