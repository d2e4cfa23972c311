package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/annchain/dagconsensus/common/io"
	"github.com/annchain/dagconsensus/common/utilfuncs"
	"github.com/annchain/dagconsensus/mylog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// readConfig merges the toml config found at --config (or under --datadir)
// and then the DAG_ prefixed environment.
func readConfig() {
	configPath := io.FixPrefixPath(viper.GetString("datadir"), viper.GetString("config"))
	if io.FileExists(configPath) {
		mergeLocalConfig(configPath)
	} else {
		logrus.WithField("path", configPath).Info("config file not found, using defaults")
	}
	mergeEnvConfig()
	b, err := json.MarshalIndent(viper.AllSettings(), "", "    ")
	utilfuncs.PanicIfError(err, "dump json")
	logrus.Debug(string(b))
}

func mergeEnvConfig() {
	// env override, consensus.leader_timeout is read from DAG_CONSENSUS_LEADER_TIMEOUT
	viper.SetEnvPrefix("dag")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func mergeLocalConfig(configPath string) {
	absPath, err := filepath.Abs(configPath)
	utilfuncs.PanicIfError(err, fmt.Sprintf("Error on parsing config file path: %s", absPath))

	file, err := os.Open(absPath)
	utilfuncs.PanicIfError(err, fmt.Sprintf("Error on opening config file: %s", absPath))
	defer file.Close()

	viper.SetConfigType("toml")
	err = viper.MergeConfig(file)
	utilfuncs.PanicIfError(err, fmt.Sprintf("Error on reading config file: %s", absPath))
}

// initLogger configures the standard logger from the log.* keys. It should
// be called by every command after readConfig.
func initLogger() {
	mylog.InitLogger(logrus.StandardLogger(), mylog.LogConfig{
		Dir:              viper.GetString("log.dir"),
		Level:            viper.GetString("log.level"),
		Stdout:           viper.GetBool("log.stdout"),
		File:             viper.GetBool("log.file"),
		LineNumber:       viper.GetBool("log.line_number"),
		MultifileByLevel: viper.GetBool("log.multifile_by_level"),
		LogstashAddr:     viper.GetString("log.logstash_addr"),
		LogstashApp:      "dagconsensus",
	})
}

func dataPath(name string) string {
	return io.FixPrefixPath(viper.GetString("datadir"), name)
}

func keyPath(index int) string {
	return filepath.Join(dataPath(viper.GetString("private_dir")), fmt.Sprintf("authority-%d.key", index))
}
