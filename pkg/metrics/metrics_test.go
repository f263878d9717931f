package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "scoresws")
				So(manager.subsystem, ShouldEqual, "stream")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithMetricPrefix("test_"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the metric names carry the namespace and prefix", func() {
				So(manager, ShouldNotBeNil)
				manager.scoresIngested.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_namespace_test_subsystem_test_scores_ingested_total")
			})

			Convey("Then every series carries the custom labels", func() {
				manager.scoresIngested.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				for _, f := range families {
					for _, metric := range f.GetMetric() {
						found := false
						for _, lp := range metric.GetLabel() {
							if lp.GetName() == "env" && lp.GetValue() == "test" {
								found = true
							}
						}
						So(found, ShouldBeTrue)
					}
				}
			})
		})

		Convey("When latency histograms use the default buckets", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))
			manager.httpRequestDuration.WithLabelValues("stats", "GET", "200").Observe(42)

			Convey("Then a 42ms request lands in the 50ms bucket", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var fifty uint64
				var bounds []float64
				for _, f := range families {
					if f.GetName() != "scoresws_stream_http_request_duration_milliseconds" {
						continue
					}
					for _, b := range f.GetMetric()[0].GetHistogram().GetBucket() {
						bounds = append(bounds, b.GetUpperBound())
						if b.GetUpperBound() == 50 {
							fifty = b.GetCumulativeCount()
						}
					}
				}
				So(bounds, ShouldResemble, defaultLatencyBuckets)
				So(fifty, ShouldEqual, 1)
			})
		})
	})
}

func TestConfigure(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Reset(func() { Configure() })

		Convey("When configured with a refresh interval and labels", func() {
			Configure(
				WithRefreshInterval(3*time.Second),
				WithCustomLabels(map[string]string{"region": "eu"}),
			)
			RecordScoreIngested()

			Convey("Then the interval is reported and series carry the labels", func() {
				So(Enabled(), ShouldBeTrue)
				So(RefreshInterval(), ShouldEqual, 3*time.Second)
				So(testutil.ToFloat64(globalManager.scoresIngested), ShouldEqual, 1)
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				var labels []string
				for _, f := range families {
					if f.GetName() == "scoresws_stream_scores_ingested_total" {
						for _, lp := range f.GetMetric()[0].GetLabel() {
							labels = append(labels, lp.GetName()+"="+lp.GetValue())
						}
					}
				}
				So(labels, ShouldResemble, []string{"region=eu"})
			})
		})

		Convey("When configured disabled", func() {
			Configure(WithMetricsEnabled(false))
			RecordScoreIngested()
			UpdateSessionsConnected(7)
			RecordPoll("ok", 10)

			Convey("Then nothing is recorded or exposed", func() {
				So(Enabled(), ShouldBeFalse)
				So(testutil.ToFloat64(globalManager.scoresIngested), ShouldEqual, 0)
				So(testutil.ToFloat64(globalManager.sessionsConnected), ShouldEqual, 0)
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				So(families, ShouldBeEmpty)
			})
		})

		Convey("When configured without options", func() {
			Configure()

			Convey("Then the defaults apply", func() {
				So(Enabled(), ShouldBeTrue)
				So(RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording ingest metrics", func() {
			before := testutil.ToFloat64(globalManager.scoresIngested)
			RecordScoreIngested()
			RecordScoreIngested()
			RecordScoreFiltered()
			RecordScoreDuplicate()
			RecordPoll("ok", 12)
			RecordPoll("error", 40)
			RecordUpstreamTokenRefresh()

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.scoresIngested)-before, ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.polls.WithLabelValues("ok")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When updating poller state", func() {
			UpdatePollerState(PollerStateDegraded)
			UpdatePollConsecutiveFailures(3)

			Convey("Then the gauges reflect it", func() {
				So(testutil.ToFloat64(globalManager.pollerState), ShouldEqual, PollerStateDegraded)
				So(testutil.ToFloat64(globalManager.pollConsecutiveFailures), ShouldEqual, 3)
			})

			UpdatePollerState(PollerStateRunning)
			UpdatePollConsecutiveFailures(0)
		})

		Convey("When recording ledger metrics", func() {
			UpdateLedgerCapacity(100)
			UpdateLedger(42, 1042)
			truncatedBefore := testutil.ToFloat64(globalManager.truncatedResumes)
			RecordSnapshot(10, true)
			RecordSnapshot(3, false)
			RecordLedgerEviction()

			Convey("Then the gauges and counters reflect it", func() {
				So(testutil.ToFloat64(globalManager.ledgerCapacity), ShouldEqual, 100)
				So(testutil.ToFloat64(globalManager.ledgerSize), ShouldEqual, 42)
				So(testutil.ToFloat64(globalManager.ledgerLatestID), ShouldEqual, 1042)
				So(testutil.ToFloat64(globalManager.truncatedResumes)-truncatedBefore, ShouldEqual, 1)
			})
		})

		Convey("When recording session metrics", func() {
			So(func() {
				UpdateSessionsConnected(2)
				RecordSessionOpened()
				RecordSessionClosed("client_gone")
				RecordSessionRejected("handshake")
				RecordEventDelivered()
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.sessionsConnected), ShouldEqual, 2)
		})

		Convey("When recording HTTP and error metrics", func() {
			So(func() {
				RecordHTTPRequest("stats", "GET", "200")
				RecordHTTPRequestDuration("stats", "GET", "200", 5.0)
				RecordErrorByComponent("poller", "fetch")
				RecordErrorByType("fetch", "medium")
				RecordErrorByEndpoint("stats", "GET", "not_found")
				RecordErrorLatency("http", "not_found", 1.0)
			}, ShouldNotPanic)
		})

		Convey("When recording system metrics", func() {
			So(func() {
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.5)
				UpdateProcessStats(2048, 1.5)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.processRSS), ShouldEqual, 2048)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		RecordScoreIngested()
		families, err := GetRegistry().Gather()

		Convey("Then it gathers the service metrics", func() {
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})
	})
}
