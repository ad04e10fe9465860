// Command historian runs the history event forwarding service against a
// timeline server, feeding it a synthetic event stream. It exists for smoke
// testing a deployment; the service is normally embedded via the extension
// service container.
package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/historian/common/stats"
	"github.com/twitter/historian/config"
	"github.com/twitter/historian/history"
	"github.com/twitter/historian/services"
)

const historyServiceName = "history.timeline"

func main() {
	var configFlag string
	var appID string
	var attemptID string
	var jobs int

	rootCmd := &cobra.Command{
		Use:   "historian",
		Short: "Forward application history events to a timeline server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFlag, appID, attemptID, jobs)
		},
	}
	rootCmd.Flags().StringVar(&configFlag, "config", "", "JSON config text or a path to a config file")
	rootCmd.Flags().StringVar(&appID, "app-id", "application_demo_0001", "application id to post under")
	rootCmd.Flags().StringVar(&attemptID, "attempt-id", "", "attempt id, if the resource manager assigned one")
	rootCmd.Flags().IntVar(&jobs, "jobs", 3, "number of synthetic job events to feed")

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(configFlag, appID, attemptID string, jobs int) error {
	conf, err := loadConfig(configFlag)
	if err != nil {
		return err
	}

	stat := stats.DefaultStatsReceiver()
	svc := history.NewHistoryService(stat.Scope("history"))
	services.Register(historyServiceName, func() services.Service { return svc })
	if conf.ExtensionServices == "" {
		conf.ExtensionServices = historyServiceName
	}

	binding := services.Binding{
		Ctx: &services.AppContext{
			Conf:         conf,
			AppName:      "historian-demo",
			User:         os.Getenv("USER"),
			SparkVersion: history.SparkVersion,
		},
		AppID:     appID,
		AttemptID: attemptID,
	}

	container := services.NewContainer()
	if err := container.Start(binding); err != nil {
		return err
	}

	now := time.Now().UnixNano() / int64(time.Millisecond)
	svc.Process(&history.ApplicationStart{
		AppID:     appID,
		AttemptID: attemptID,
		AppName:   "historian-demo",
		User:      os.Getenv("USER"),
		Time:      now,
	})
	for i := 0; i < jobs; i++ {
		svc.Process(&history.JobStart{
			JobID:      i,
			Time:       now + int64(i),
			Properties: map[string]string{history.JobGroupProperty: "demo"},
		})
	}

	if err := container.Stop(); err != nil {
		return err
	}
	fmt.Printf("%s\n", stat.Render(true))
	log.Infof("Done: %s", svc)
	return nil
}

// loadConfig treats the flag as literal JSON text when it starts with '{',
// else as a path to a config file.
func loadConfig(flag string) (*config.Config, error) {
	text := []byte(flag)
	if flag != "" && !strings.HasPrefix(strings.TrimSpace(flag), "{") {
		b, err := ioutil.ReadFile(flag)
		if err != nil {
			return nil, err
		}
		text = b
	}
	conf, err := config.Parse(text)
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
