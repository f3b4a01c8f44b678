package utils

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"shardchat/configs"
)

// Info carries the per-transfer measurements the orchestrator fills in as
// the protocol runs.
type Info struct {
	NumPart      int
	Failure      bool
	RetryCount   int
	ApplyRetries int
	IsCommit     bool
	Latency      time.Duration
	ST1          time.Duration // prepare phase
	ST2          time.Duration // ledger decision
	ST3          time.Duration // apply phase
}

func NewInfo(nPart int) *Info {
	return &Info{
		NumPart: nPart,
		Failure: false, IsCommit: false, Latency: 0,
		ST1: 0, ST2: 0, ST3: 0, RetryCount: 0, ApplyRetries: 0,
	}
}

// Stat accumulates transfer infos and reports windowed aggregates.
type Stat struct {
	mu        *sync.Mutex
	txnInfos  []*Info
	beginTS   int
	endTS     int
	beginTime time.Time
	endTime   time.Time
}

func NewStat() *Stat {
	return &Stat{
		txnInfos:  make([]*Info, 0, 1024),
		mu:        &sync.Mutex{},
		beginTS:   0,
		endTS:     0,
		beginTime: time.Now(),
		endTime:   time.Now(),
	}
}

func (st *Stat) Append(info *Info) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.endTS++
	st.endTime = time.Now()
	st.txnInfos = append(st.txnInfos, info)
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (st *Stat) Log() {
	st.mu.Lock()
	defer st.mu.Unlock()
	txnCnt, cross, success, fail, crossSuc, tryCnt, applyCnt := 0, 0, 0, 0, 0, 0, 0
	latencySum, s1, s2, s3 := 0, time.Duration(0), time.Duration(0), time.Duration(0)
	latencies := make([]int, 0)
	for i := st.beginTS; i < st.endTS; i++ {
		tmp := st.txnInfos[i]
		if tmp == nil {
			continue
		}
		txnCnt++
		tryCnt += tmp.RetryCount
		applyCnt += tmp.ApplyRetries
		if tmp.NumPart > 1 {
			cross++
		}
		if tmp.Failure {
			fail++
		}
		if tmp.Latency > 0 {
			latencySum += int(tmp.Latency)
			latencies = append(latencies, int(tmp.Latency))
		}
		if tmp.IsCommit {
			success++
			if tmp.NumPart > 1 {
				s1 += tmp.ST1
				s2 += tmp.ST2
				s3 += tmp.ST3
				crossSuc++
			}
		}
	}
	msg := "try_cnt:" + strconv.Itoa(tryCnt/configs.RunStatsInterval) + ";"
	msg += "txn_cnt:" + strconv.Itoa(txnCnt/configs.RunStatsInterval) + ";"
	msg += "dis_txn_cnt:" + strconv.Itoa(cross/configs.RunStatsInterval) + ";"
	msg += "success_txn:" + strconv.Itoa(success/configs.RunStatsInterval) + ";"
	msg += "success_dis_txn:" + strconv.Itoa(crossSuc/configs.RunStatsInterval) + ";"
	msg += "crash_abort:" + strconv.Itoa(fail/configs.RunStatsInterval) + ";"
	msg += "apply_retry:" + strconv.Itoa(applyCnt/configs.RunStatsInterval) + ";"
	sort.Ints(latencies)
	if len(latencies) > 0 {
		i := Min((len(latencies)*99+99)/100, len(latencies)-1)
		msg += "p99_latency:" + time.Duration(latencies[i]).String() + ";"
		i = Min((len(latencies)*9+9)/10, len(latencies)-1)
		msg += "p90_latency:" + time.Duration(latencies[i]).String() + ";"
		i = Min((len(latencies)+1)/2, len(latencies)-1)
		msg += "p50_latency:" + time.Duration(latencies[i]).String() + ";"
		msg += "ave_latency:" + time.Duration(float64(latencySum)/float64(len(latencies))).String() + ";"
	} else {
		msg += "p99_latency:nil;"
		msg += "p90_latency:nil;"
		msg += "p50_latency:nil;"
		msg += "ave_latency:nil;"
	}
	if crossSuc == 0 {
		msg += "avg_phase1:nil;"
		msg += "avg_phase2:nil;"
		msg += "avg_phase3:nil;"
	} else {
		msg += "avg_phase1:" + time.Duration(s1.Nanoseconds()/int64(crossSuc)).String() + ";"
		msg += "avg_phase2:" + time.Duration(s2.Nanoseconds()/int64(crossSuc)).String() + ";"
		msg += "avg_phase3:" + time.Duration(s3.Nanoseconds()/int64(crossSuc)).String() + ";"
	}
	fmt.Println(msg)
}

func (st *Stat) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.beginTS = st.endTS
	st.beginTime = time.Now()
}
