package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/spf13/cobra"

	"github.com/rapidmidiex/rmxsynth/assets"
	"github.com/rapidmidiex/rmxsynth/engine"
	"github.com/rapidmidiex/rmxsynth/monitor"
	"github.com/rapidmidiex/rmxsynth/music"
	"github.com/rapidmidiex/rmxsynth/sink"
	"github.com/rapidmidiex/rmxsynth/sink/otosink"
)

var (
	playMusic     string
	playSlot      int
	playMidi      string
	playBackend   string
	playTUI       bool
	playLoop      bool
	playListeners int
	playInstr     instrumentFlags
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play a WAV reference with synchronized MIDI listeners",
	Long: `Play a WAV file as the reference music and stream the MIDI mapped to its slot
for each listener, kept in sync with the music.

Example:
  rmxsynth play --music theme.wav --slot 1 --midi theme.mid --soundfont gm.sf2 --tui
`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&playMusic, "music", "", "Reference WAV file")
	playCmd.Flags().IntVar(&playSlot, "slot", 0, "Music slot the reference plays in")
	playCmd.Flags().StringVar(&playMidi, "midi", "", "MIDI file to map to the slot, overriding the config")
	playCmd.Flags().StringVar(&playBackend, "backend", "beep", "Audio output: beep or oto")
	playCmd.Flags().BoolVar(&playTUI, "tui", false, "Show the listener monitor")
	playCmd.Flags().BoolVar(&playLoop, "loop", true, "Loop the reference")
	playCmd.Flags().IntVarP(&playListeners, "listeners", "n", 1, "Number of listeners to activate")
	playInstr.register(playCmd)
	playCmd.MarkFlagRequired("music")
	rootCmd.AddCommand(playCmd)
}

// output is an audio device queues are attached to.
type output interface {
	attach(q *sink.Queue)
	close()
}

type beepOutput struct {
	mixer *beep.Mixer
}

func newBeepOutput(sampleRate, bufferSamples int) (*beepOutput, error) {
	if err := speaker.Init(beep.SampleRate(sampleRate), bufferSamples); err != nil {
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	o := &beepOutput{mixer: &beep.Mixer{}}
	speaker.Play(o.mixer)
	return o, nil
}

func (o *beepOutput) attach(q *sink.Queue) {
	speaker.Lock()
	o.mixer.Add(q.Streamer())
	speaker.Unlock()
}

func (o *beepOutput) close() {
	speaker.Clear()
}

type otoOutput struct {
	out *otosink.Output
}

func (o otoOutput) attach(q *sink.Queue) { o.out.Attach(q) }
func (o otoOutput) close()               { o.out.Close() }

func openOutput(backend string) (output, error) {
	switch backend {
	case "beep":
		return newBeepOutput(cfg.SampleRate, cfg.BufferSamples)
	case "oto":
		out, err := otosink.New(cfg.SampleRate, cfg.BufferSamples)
		if err != nil {
			return nil, err
		}
		return otoOutput{out: out}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

func runPlay(cmd *cobra.Command, args []string) error {
	if playTUI {
		f, err := os.OpenFile("rmxsynth.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		if log, err = initLogger(f); err != nil {
			return err
		}
	}

	lib := assets.New(log)
	if err := lib.Scan(cfg.SoundFontDir, cfg.MidiDir); err != nil {
		return err
	}
	inst, err := playInstr.resolve(lib)
	if err != nil {
		return err
	}
	if playMidi != "" {
		name, err := lib.AddSequenceFile(playMidi)
		if err != nil {
			return err
		}
		cfg.Music[playSlot] = name
	}

	out, err := openOutput(playBackend)
	if err != nil {
		return err
	}
	defer out.close()

	ref, err := music.Open(playMusic, music.Options{
		SampleRate:   cfg.SampleRate,
		BufferFrames: cfg.BufferSamples,
		Loop:         playLoop,
		LowWater:     cfg.LowWater,
	}, log)
	if err != nil {
		return err
	}
	defer ref.Close()

	ctrl, err := engine.New(engine.Options{
		Sequences: lib,
		NewSink: func() (sink.Sink, error) {
			q := sink.NewQueue()
			q.SetLowWater(cfg.LowWater)
			out.attach(q)
			return q, nil
		},
		PlayerConfig: cfg.PlayerConfig(),
		Track:        cfg.TrackConfig(),
		Sync:         cfg.SyncConfig(),
		FadeOut:      cfg.FadeOut,
		Log:          log,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	for slot, name := range cfg.Music {
		ctrl.MapMusic(slot, name)
	}
	out.attach(ref.Queue())
	ref.Play()
	ctrl.SetMusic(playSlot, ref)

	for i := 0; i < playListeners; i++ {
		if _, err := ctrl.Activate(inst); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if playTUI {
		p := tea.NewProgram(monitor.New(ctrl, "rmxsynth · "+ref.Name, monitor.DefaultInterval, log), tea.WithAltScreen(), tea.WithContext(ctx))
		_, err := p.Run()
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
	return updateLoop(ctx, ctrl, ref)
}

// updateLoop ticks the controller until interrupted or the reference ends.
func updateLoop(ctx context.Context, ctrl *engine.Controller, ref *music.Track) error {
	ticker := time.NewTicker(monitor.DefaultInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted")
			return nil
		case <-ticker.C:
			ctrl.Update()
			if ref.Queue().State() == sink.Stopped {
				log.Info("music ended", "loops", ref.Loops())
				return nil
			}
		}
	}
}
