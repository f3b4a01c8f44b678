package configs

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

func TxnPrint(tid string, format string, a ...interface{}) {
	if ShowDebugInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+tid+":"+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+tid+":"+format+"\n", a...)
		}
	}
}

func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		}
	}
}

func TPrintf(format string, a ...interface{}) {
	if ShowTestInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		}
	}
}

// TimeLoad stores the time elapsed since start into latency.
func TimeLoad(start time.Time, name string, tid string, latency *time.Duration) {
	if latency == nil || start.IsZero() {
		return
	}
	*latency = time.Since(start)
	TPrintf(tid + ": Time cost for " + name + " : " + (*latency).String())
}

func JToString(v interface{}) string {
	byt, _ := json.Marshal(v)
	return string(byt)
}

func JPrint(v interface{}) {
	byt, _ := json.Marshal(v)
	fmt.Println(string(byt))
}

func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ERROR] Assert error at " + msg + "\n")
	}
	return cond
}

func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		if !LogToFile {
			fmt.Printf("[WARNING] :" + msg + "\n")
		} else {
			log.Printf("[WARNING] :" + msg + "\n")
		}
	}
	return cond
}

func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}

// StoreTypeOf maps a conninfo string to the storage variant behind it.
// "mem://name" selects the in-process store used by tests.
func StoreTypeOf(conninfo string) string {
	switch {
	case strings.HasPrefix(conninfo, "mem://"):
		return MemoryStorage
	case strings.HasPrefix(conninfo, "mongodb://"):
		return MongoDB
	default:
		return PostgreSQL
	}
}
