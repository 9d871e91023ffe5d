package logger

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger

	mu   sync.Mutex
	file *lumberjack.Logger
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（为空则只输出到控制台）
	MaxSize    int    // 单个日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
	NoColors   bool   // CLI / 非终端输出时关闭颜色
}

func newFormatter(colors bool) *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
		ForceColors:     colors,
		DisableColors:   !colors,
	}
}

// fileHook 以无颜色格式把日志写入滚动文件，控制台保留颜色
type fileHook struct {
	w         *lumberjack.Logger
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *fileHook) Fire(e *logrus.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}

// Init 初始化日志系统，可重复调用（先关闭上一个日志文件）。
// 同时配置全局 logrus，各包 logrus.WithField() 创建的 entry 也会写入文件。
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	var hook logrus.Hook
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return err
		}
		w := &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		hook = &fileHook{w: w, formatter: newFormatter(false)}
		_ = closeFileLocked()
		file = w
	}

	Logger = logrus.New()
	for _, l := range []*logrus.Logger{logrus.StandardLogger(), Logger} {
		l.SetLevel(level)
		l.SetFormatter(newFormatter(!cfg.NoColors))
		l.SetOutput(os.Stdout)
		l.ReplaceHooks(make(logrus.LevelHooks))
		if hook != nil {
			l.AddHook(hook)
		}
	}
	return nil
}

// Close 关闭日志文件
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	return closeFileLocked()
}

func closeFileLocked() error {
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// InitDefault 使用默认配置初始化日志系统（30 天保留）
func InitDefault() error {
	return Init(DefaultConfig())
}

// DefaultConfig 默认日志配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		OutputFile: "logs/blackpanther.log",
		MaxSize:    100, // 100MB
		MaxBackups: 30,
		MaxAge:     30,
		Compress:   true,
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}
