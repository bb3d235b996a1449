// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "MasterQC")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "masterqc.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)
	viper.SetDefault("main.log.rotationday", "Sunday")

	viper.SetDefault("tools.ffmpegpath", "")
	viper.SetDefault("tools.ffprobepath", "")
	viper.SetDefault("tools.timeout", "30s")

	viper.SetDefault("normalize.tempdir", "")
	viper.SetDefault("normalize.maxage", "1h")
	viper.SetDefault("normalize.maxusage", "90%")
	viper.SetDefault("normalize.sweepinterval", "10m")

	viper.SetDefault("analyzer.platform", "spotify")
	viper.SetDefault("analyzer.subgenre", "")
	viper.SetDefault("analyzer.granularity", 0.4)
	viper.SetDefault("analyzer.referencecurve", "neutral")
	viper.SetDefault("analyzer.cachettl", "5m")

	viper.SetDefault("classify.heuristicsfile", "")

	viper.SetDefault("queue.workers", 0)
	viper.SetDefault("queue.maxattempts", 3)
	viper.SetDefault("queue.retrydelay", "5s")
	viper.SetDefault("queue.stoptimeout", "30s")

	viper.SetDefault("delivery.platformsfile", "")
	viper.SetDefault("delivery.endpoint", "")
	viper.SetDefault("delivery.apikey", "")
	viper.SetDefault("delivery.apikeyfile", "")
	viper.SetDefault("delivery.bearertoken", "")
	viper.SetDefault("delivery.bearertokenfile", "")
	viper.SetDefault("delivery.uploadrate", 2.0)
	viper.SetDefault("delivery.uploadburst", 4)
	viper.SetDefault("delivery.timeout", "120s")

	viper.SetDefault("catalog.samplesize", 0)
	viper.SetDefault("catalog.parallel", 50)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")
	viper.SetDefault("telemetry.sentry", false)
	viper.SetDefault("telemetry.dsn", "")
}
