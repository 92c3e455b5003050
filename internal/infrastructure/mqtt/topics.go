package mqtt

import "fmt"

// TopicPrefix is the root of every topic this tool uses.
const TopicPrefix = "aufbau"

// Command names accepted on the command topics.
const (
	CommandStart  = "start"
	CommandSkip   = "skip"
	CommandCancel = "cancel"
)

// Topics builds the topics of one enrollment station.
//
//	topics := mqtt.Topics{Station: "bench-01"}
//	topics.Progress("sensor", 3)
//	// Returns: "aufbau/bench-01/progress/sensor/3"
type Topics struct {
	Station string
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.Station)
}

// Status is the retained online/offline topic, also used for the LWT.
//
// Example: aufbau/bench-01/status
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Progress carries one progress event of one target.
//
// Example: aufbau/bench-01/progress/light/2
func (t Topics) Progress(class string, index int) string {
	return fmt.Sprintf("%s/progress/%s/%d", t.base(), class, index)
}

// Run is the retained run status topic.
//
// Example: aufbau/bench-01/run
func (t Topics) Run() string {
	return t.base() + "/run"
}

// Bus is the retained bus health topic.
//
// Example: aufbau/bench-01/bus
func (t Topics) Bus() string {
	return t.base() + "/bus"
}

// Command is the topic a remote operator publishes one command to.
//
// Example: aufbau/bench-01/command/skip
func (t Topics) Command(name string) string {
	return fmt.Sprintf("%s/command/%s", t.base(), name)
}

// AllCommands subscribes to every command of the station.
//
// Example: aufbau/bench-01/command/+
func (t Topics) AllCommands() string {
	return t.base() + "/command/+"
}

// AllProgress subscribes to every progress event of the station.
func (t Topics) AllProgress() string {
	return t.base() + "/progress/#"
}
