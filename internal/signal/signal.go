package signal

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// DefaultSignals 默认拦截的终止信号
var DefaultSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Trigger 把终止信号转换为回调，Restore后恢复默认处理
type Trigger struct {
	log      *zap.Logger
	signals  []os.Signal
	callback func(os.Signal)

	sigChan chan os.Signal
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewTrigger 创建信号触发器，signals为空时使用DefaultSignals
func NewTrigger(log *zap.Logger, callback func(os.Signal), signals ...os.Signal) *Trigger {
	if len(signals) == 0 {
		signals = DefaultSignals
	}
	return &Trigger{
		log:      log,
		signals:  signals,
		callback: callback,
		sigChan:  make(chan os.Signal, 1),
		quit:     make(chan struct{}),
	}
}

// Register 开始拦截信号
func (t *Trigger) Register() {
	signal.Notify(t.sigChan, t.signals...)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case sig := <-t.sigChan:
				t.log.Info("received shutdown signal", zap.String("signal", sig.String()))
				if t.callback != nil {
					t.callback(sig)
				}
			case <-t.quit:
				return
			}
		}
	}()
}

// Restore 停止拦截，恢复原有信号处理
func (t *Trigger) Restore() {
	signal.Stop(t.sigChan)
	close(t.quit)
	t.wg.Wait()
	t.log.Debug("signal handlers restored")
}
