/*
   SDSPI - SD card driver for the serial peripheral bus
   Copyright (c) 2022, Alexander Vollschwitz

   This file is part of SDSPI.

   SDSPI is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   SDSPI is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with SDSPI. If not, see <http://www.gnu.org/licenses/>.
*/

package run

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xelalexv/sdspi/pkg/bus"
	"github.com/xelalexv/sdspi/pkg/sd"
)

const runnerHelpEpilogue = `- All settings can also be given as environment variables, named SDSPI_
  followed by the setting name in upper case, with '-' replaced by '_', e.g.
  SDSPI_ADDRESS. Command line flags take precedence over the environment.

- Settings can also be read from a YAML, JSON, or TOML file given with
  --config. Keys in the file are the setting names.

`

//
type setting struct {
	ref      interface{}
	name     string
	required bool
}

/*
	Runner is the base of all commands. It ties a cobra command to a viper
	instance, so that every setting can be given as flag, as environment
	variable, or in a config file.
*/
type Runner struct {
	cobra.Command
	//
	Address string
	Config  string
	//
	viper    *viper.Viper
	settings []*setting
	exec     func() error
}

//
func NewRunner(use, short, long, example, epilogue string,
	exec func() error) *Runner {

	r := &Runner{viper: viper.New(), exec: exec}

	r.Command = cobra.Command{
		Use:          use,
		Short:        short,
		Long:         long,
		Example:      example,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.exec()
		},
	}

	// --spool_dir is the same as --spool-dir
	r.Flags().SetNormalizeFunc(
		func(f *pflag.FlagSet, name string) pflag.NormalizedName {
			return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
		})

	if epilogue != "" {
		r.SetUsageTemplate(r.UsageTemplate() + "\nNotes:\n\n" + epilogue)
	}

	return r
}

/*
	AddSetting adds a setting stored in ref, which needs to be a pointer to
	a string, bool, int, uint, uint32, int64, or time.Duration. If env is
	empty, the environment variable is derived from name.
*/
func (r *Runner) AddSetting(ref interface{}, name, short, env string,
	dflt interface{}, usage string, required bool) {

	if env == "" {
		env = "SDSPI_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	}
	usage = fmt.Sprintf("%s (env %s)", usage, env)

	flags := r.Flags()

	switch ref.(type) {
	case *string:
		d, _ := dflt.(string)
		flags.StringP(name, short, d, usage)
	case *bool:
		d, _ := dflt.(bool)
		flags.BoolP(name, short, d, usage)
	case *int:
		flags.IntP(name, short, int(toInt64(dflt)), usage)
	case *uint:
		flags.UintP(name, short, uint(toInt64(dflt)), usage)
	case *uint32:
		flags.Uint32P(name, short, uint32(toInt64(dflt)), usage)
	case *int64:
		flags.Int64P(name, short, toInt64(dflt), usage)
	case *time.Duration:
		d, _ := dflt.(time.Duration)
		flags.DurationP(name, short, d, usage)
	default:
		panic(fmt.Sprintf("unsupported setting type %T for '%s'", ref, name))
	}

	if err := r.viper.BindPFlag(name, flags.Lookup(name)); err != nil {
		panic(err)
	}
	if err := r.viper.BindEnv(name, env); err != nil {
		panic(err)
	}

	r.settings = append(r.settings,
		&setting{ref: ref, name: name, required: required})
}

//
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint32:
		return int64(n)
	}
	return 0
}

//
func (r *Runner) AddBaseSettings() {
	r.AddSetting(&r.Address, "address", "a", "", "localhost:8888",
		"listen address and port of the API server", false)
	r.AddSetting(&r.Config, "config", "", "", "", "config file", false)
}

/*
	ParseSettings resolves all settings into their references, reading the
	config file first if one was given.
*/
func (r *Runner) ParseSettings() error {

	if cfg := r.viper.GetString("config"); cfg != "" {
		r.viper.SetConfigFile(cfg)
		if err := r.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file '%s': %v", cfg, err)
		}
		log.WithField("file", cfg).Debug("config file loaded")
	}

	for _, s := range r.settings {

		if s.required && !r.viper.IsSet(s.name) {
			return fmt.Errorf("setting '%s' is required", s.name)
		}

		switch ref := s.ref.(type) {
		case *string:
			*ref = r.viper.GetString(s.name)
		case *bool:
			*ref = r.viper.GetBool(s.name)
		case *int:
			*ref = r.viper.GetInt(s.name)
		case *uint:
			*ref = r.viper.GetUint(s.name)
		case *uint32:
			*ref = r.viper.GetUint32(s.name)
		case *int64:
			*ref = r.viper.GetInt64(s.name)
		case *time.Duration:
			*ref = r.viper.GetDuration(s.name)
		}
	}

	return nil
}

// IsSet determines whether setting name was given explicitly.
func (r *Runner) IsSet(name string) bool {
	return r.viper.IsSet(name)
}

/*
	apiCall calls the API server. On success, the caller needs to close the
	returned body. Replies with a status other than OK are turned into an
	error carrying the server's message.
*/
func (r *Runner) apiCall(method, path string, json bool,
	body io.Reader) (io.ReadCloser, error) {

	req, err := http.NewRequest(
		method, fmt.Sprintf("http://%s%s", r.Address, path), body)
	if err != nil {
		return nil, err
	}

	if json {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := ioutil.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s (%d)", errorMessage(msg), resp.StatusCode)
	}

	return resp.Body, nil
}

//
func errorMessage(body []byte) string {
	var e map[string]string
	if err := json.Unmarshal(body, &e); err == nil && e["error"] != "" {
		return e["error"]
	}
	return strings.TrimSpace(string(body))
}

//
func GetUserConfirmation(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

/*
	BusSettings are the settings for commands that operate the card through
	a bus adapter, rather than through the API server.
*/
type BusSettings struct {
	Bus        string
	Device     string
	Baud       uint
	Speed      int64
	ChipSelect string
	SimSectors uint32
	//
	CommandTimeout   uint32
	ReadWriteTimeout uint32
	EraseTimeout     uint32
	InitTimeout      uint32
	CommandDelay     uint32
	MaxRetry         int
	PreClock         bool
	VerifyCRC        bool
}

//
func (r *Runner) AddBusSettings(b *BusSettings) {

	t := sd.DefaultTiming()

	r.AddSetting(&b.Bus, "bus", "b", "", bus.TypeSerial,
		"bus adapter type: serial, spi, or sim", false)
	r.AddSetting(&b.Device, "device", "p", "", "",
		"serial device, SPI port, or card image file for sim", false)
	r.AddSetting(&b.Baud, "baud", "", "", 500000,
		"serial line speed", false)
	r.AddSetting(&b.Speed, "speed", "", "", 4000000,
		"SPI clock in Hz", false)
	r.AddSetting(&b.ChipSelect, "chip-select", "", "", "",
		"GPIO pin used as chip select for SPI", false)
	r.AddSetting(&b.SimSectors, "sim-sectors", "", "", 65536,
		"capacity of simulated card without image file", false)

	r.AddSetting(&b.CommandTimeout, "command-timeout", "", "",
		t.CommandTimeout, "command response timeout in ms", false)
	r.AddSetting(&b.ReadWriteTimeout, "rw-timeout", "", "",
		t.ReadWriteTimeout, "block read & write timeout in ms", false)
	r.AddSetting(&b.EraseTimeout, "erase-timeout", "", "",
		t.EraseTimeout, "erase timeout in ms", false)
	r.AddSetting(&b.InitTimeout, "init-timeout", "", "",
		t.InitTimeout, "card initialisation timeout in ms", false)
	r.AddSetting(&b.CommandDelay, "command-delay", "", "",
		t.CommandDelay, "delay before each command attempt in ms", false)
	r.AddSetting(&b.MaxRetry, "max-retry", "", "",
		t.MaxRetry, "additional attempts of retried commands", false)
	r.AddSetting(&b.PreClock, "pre-clock", "", "",
		t.PreClock, "send an idle byte before each command", false)
	r.AddSetting(&b.VerifyCRC, "verify-crc", "", "",
		t.VerifyCRC, "verify CRC of received data blocks", false)
}

//
func (b *BusSettings) busConfig() bus.Config {
	return bus.Config{
		Type:       b.Bus,
		Device:     b.Device,
		Baud:       b.Baud,
		Speed:      b.Speed,
		ChipSelect: b.ChipSelect,
		SimSectors: b.SimSectors,
	}
}

//
func (b *BusSettings) timing() sd.Timing {
	return sd.Timing{
		CommandTimeout:   b.CommandTimeout,
		ReadWriteTimeout: b.ReadWriteTimeout,
		EraseTimeout:     b.EraseTimeout,
		InitTimeout:      b.InitTimeout,
		CommandDelay:     b.CommandDelay,
		MaxRetry:         b.MaxRetry,
		PreClock:         b.PreClock,
		VerifyCRC:        b.VerifyCRC,
	}
}

/*
	openCard opens the bus adapter and initialises the card. The caller
	needs to close the returned adapter.
*/
func (b *BusSettings) openCard() (*sd.Card, *sd.Info, bus.Adapter, error) {

	adapter, err := bus.Open(b.busConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	card := sd.NewCard(adapter, sd.NewSystemClock(), b.timing())
	info, err := card.Init()
	if err != nil {
		adapter.Close()
		return nil, nil, nil, err
	}

	return card, info, adapter, nil
}
