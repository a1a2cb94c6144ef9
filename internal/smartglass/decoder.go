package smartglass

// decoder folds telemetry frames into the working snapshot and decides when
// a state change is worth emitting. It is owned by the session worker.
type decoder struct {
	current Snapshot
	emitted Snapshot
	hasEmit bool
}

func newDecoder() *decoder {
	return &decoder{}
}

// applyStatus folds a console status report. A report means the console is
// running. Content resolution prefers the focused title's application
// reference, then its title id, and otherwise keeps the previous value; the
// title id always belongs to the title that set the content.
func (d *decoder) applyStatus(st ConsoleStatus) (Snapshot, bool) {
	d.setPower(PowerOn)
	if title, ok := st.focused(); ok {
		if content := contentFor(title.AUMID, title.TitleID); content != "" {
			d.current.Content = content
			d.current.TitleID = title.TitleID
		}
	}
	return d.commit()
}

// applyMedia folds a media state report. The console reports a coarse
// sound level, which maps to muted, half or full volume; muting keeps the
// last volume.
func (d *decoder) applyMedia(ms MediaStatus) (Snapshot, bool) {
	d.current.Media = ms.playback()
	switch ms.SoundLevel {
	case soundMuted:
		d.current.Muted = true
	case soundLow:
		d.current.Muted = false
		d.current.Volume = 50
	case soundFull:
		d.current.Muted = false
		d.current.Volume = 100
	}
	return d.commit()
}

// applyPower records a power state learned outside a status report, such as
// a requested power off.
func (d *decoder) applyPower(p PowerState) (Snapshot, bool) {
	d.setPower(p)
	return d.commit()
}

func (d *decoder) setPower(p PowerState) {
	d.current.Power = p.IsOn()
}

// commit reports the working snapshot if it differs from the last one
// reported. The first commit always reports.
func (d *decoder) commit() (Snapshot, bool) {
	if d.hasEmit && d.emitted.Equal(d.current) {
		return d.current, false
	}
	d.emitted = d.current
	d.hasEmit = true
	return d.current, true
}
