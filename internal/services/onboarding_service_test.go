package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Emtrip/internal/models"
)

func joinedConfig(opcode string) *models.AppConfig {
	return &models.AppConfig{StudyName: "demo", Joined: &models.JoinedInfo{Opcode: opcode}}
}

func TestResolveRouteAllCombinations(t *testing.T) {
	expected := func(configPresent, consented, summaryDone, saveQrDone, introDone bool) OnboardingRoute {
		if introDone {
			return RouteDone
		}
		if !configPresent {
			return RouteWelcome
		}
		if consented {
			if saveQrDone {
				return RouteSurvey
			}
			return RouteSaveQR
		}
		if summaryDone {
			return RouteConsent
		}
		return RouteSummary
	}

	for mask := 0; mask < 32; mask++ {
		configPresent := mask&1 != 0
		consented := mask&2 != 0
		summaryDone := mask&4 != 0
		saveQrDone := mask&8 != 0
		introDone := mask&16 != 0

		name := fmt.Sprintf("config=%t/consent=%t/summary=%t/qr=%t/intro=%t", configPresent, consented, summaryDone, saveQrDone, introDone)
		t.Run(name, func(t *testing.T) {
			kv := newStubKV()
			if introDone {
				kv.values[IntroDoneKey] = []byte(`"2024-01-01T00:00:00Z"`)
			}
			configs := &stubConfigs{}
			if configPresent {
				configs.cfg = joinedConfig("nrelop_demo_abc")
			}
			svc := NewOnboardingService(kv, configs, &stubConsent{consented: consented}, nil)

			var progress OnboardingProgress
			progress.SetSummaryDone(summaryDone)
			progress.SetSaveQrDone(saveQrDone)

			st, err := svc.ResolveRoute(context.Background(), progress)
			require.NoError(t, err)
			assert.Equal(t, expected(configPresent, consented, summaryDone, saveQrDone, introDone), st.Route)
			if configPresent {
				assert.Equal(t, "nrelop_demo_abc", st.Opcode)
			} else {
				assert.Empty(t, st.Opcode)
			}
		})
	}
}

func TestResolveRouteIntroDoneAbsorbs(t *testing.T) {
	kv := newStubKV()
	kv.values[IntroDoneKey] = []byte(`"x"`)
	svc := NewOnboardingService(kv, &stubConfigs{}, &stubConsent{}, nil)

	st, err := svc.ResolveRoute(context.Background(), OnboardingProgress{})
	require.NoError(t, err)
	assert.Equal(t, RouteDone, st.Route)
}

func TestMarkIntroDoneThenResolve(t *testing.T) {
	kv := newStubKV()
	svc := NewOnboardingService(kv, &stubConfigs{cfg: joinedConfig("op")}, &stubConsent{consented: true}, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	st, err := svc.ResolveRoute(context.Background(), OnboardingProgress{SaveQrDone: true})
	require.NoError(t, err)
	require.Equal(t, RouteSurvey, st.Route)

	require.NoError(t, svc.MarkIntroDone(context.Background()))
	assert.JSONEq(t, `"2024-03-01T12:00:00Z"`, string(kv.values[IntroDoneKey]))

	st, err = svc.ResolveRoute(context.Background(), OnboardingProgress{SaveQrDone: true})
	require.NoError(t, err)
	assert.Equal(t, RouteDone, st.Route)
}

func TestReadIntroDoneTruthiness(t *testing.T) {
	cases := map[string]bool{
		"":                       false,
		"null":                   false,
		"false":                  false,
		"0":                      false,
		`""`:                     false,
		"true":                   true,
		"1":                      true,
		`"2024-01-01T00:00:00Z"`: true,
		`{"at":1}`:               true,
	}
	for raw, want := range cases {
		kv := newStubKV()
		if raw != "" {
			kv.values[IntroDoneKey] = []byte(raw)
		}
		svc := NewOnboardingService(kv, &stubConfigs{}, &stubConsent{}, nil)
		got, err := svc.ReadIntroDone(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got, "raw=%q", raw)
	}
}

func TestResolveRoutePropagatesReadFailures(t *testing.T) {
	t.Run("kv", func(t *testing.T) {
		kv := newStubKV()
		kv.getErr = errBoom
		svc := NewOnboardingService(kv, &stubConfigs{cfg: joinedConfig("op")}, &stubConsent{consented: true}, nil)
		st, err := svc.ResolveRoute(context.Background(), OnboardingProgress{})
		require.Error(t, err)
		assert.Nil(t, st)
		se, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, ErrorStoreRead, se.Code)
		assert.ErrorIs(t, err, errBoom)
	})
	t.Run("consent", func(t *testing.T) {
		svc := NewOnboardingService(newStubKV(), &stubConfigs{cfg: joinedConfig("op")}, &stubConsent{err: errBoom}, nil)
		st, err := svc.ResolveRoute(context.Background(), OnboardingProgress{})
		require.Error(t, err)
		assert.Nil(t, st)
		assert.ErrorIs(t, err, errBoom)
	})
	t.Run("config", func(t *testing.T) {
		svc := NewOnboardingService(newStubKV(), &stubConfigs{err: errBoom}, &stubConsent{consented: true}, nil)
		_, err := svc.ResolveRoute(context.Background(), OnboardingProgress{})
		se, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, ErrorFetch, se.Code)
	})
}

func TestMarkIntroDoneWriteFailure(t *testing.T) {
	kv := newStubKV()
	kv.setErr = errBoom
	svc := NewOnboardingService(kv, &stubConfigs{}, &stubConsent{}, nil)
	err := svc.MarkIntroDone(context.Background())
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorPersistence, se.Code)
}

func TestOnboardingRouteText(t *testing.T) {
	b, err := RouteSaveQR.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "SAVE_QR", string(b))
	assert.Equal(t, "UNKNOWN", OnboardingRoute(42).String())
}

func TestOnboardingProgressSetters(t *testing.T) {
	var p OnboardingProgress
	p.SetSummaryDone(true)
	p.SetSaveQrDone(true)
	p.SetRegisterUserDone(true)
	assert.Equal(t, OnboardingProgress{SummaryDone: true, SaveQrDone: true, RegisterUserDone: true}, p)
}
