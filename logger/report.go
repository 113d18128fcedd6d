package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed int64
	errorsSink int64
	warnsFeed  int64
	warnsSink  int64
	feedReads  int64
	sinkWrites int64
	reconnects int64
	channels   sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&warnsFeed, 1)
	} else if strings.Contains(component, "sink") {
		atomic.AddInt64(&warnsSink, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&errorsFeed, 1)
	} else if strings.Contains(component, "sink") {
		atomic.AddInt64(&errorsSink, 1)
	}
}

func IncrementFeedRead(size int) {
	atomic.AddInt64(&feedReads, 1)
	recordChannel("feed_ws", size)
}

func IncrementSinkWrite(cells int) {
	atomic.AddInt64(&sinkWrites, 1)
	recordChannel("sink_write", cells)
}

func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_feed":    atomic.LoadInt64(&errorsFeed),
		"errors_sink":    atomic.LoadInt64(&errorsSink),
		"warns_feed":     atomic.LoadInt64(&warnsFeed),
		"warns_sink":     atomic.LoadInt64(&warnsSink),
		"feed_reads":     atomic.LoadInt64(&feedReads),
		"sink_writes":    atomic.LoadInt64(&sinkWrites),
		"reconnects":     atomic.LoadInt64(&reconnects),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"channels":       channelData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("QS-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("QS-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("QS-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("QS-ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QS-ErrorsSink"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_sink"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QS-WarnsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QS-WarnsSink"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_sink"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QS-FeedReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["feed_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QS-SinkWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["sink_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QS-Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnects"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QS-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("QS-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("QS-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("QS-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
