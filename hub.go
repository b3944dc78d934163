package main

// hub is the single consumer of the job channel. For each JobUpdate it
// receives, it duplicates the update into the DB writer channel and the WS
// broadcast channel, whichever are enabled. A full sink channel drops that
// update with a warning; a closed sink channel is fatal to the hub.
type hub struct {
	jobs <-chan JobUpdate
	db   chan<- JobUpdate
	ws   chan<- JobUpdate
	log  *simpleLogger
}

// hubChannelCapacity bounds the DB and WS channels the hub writes into.
// Both downstream consumers are fast relative to notify arrival rate; the
// bound exists only to surface a wedged consumer as a full channel rather
// than unbounded memory growth.
const hubChannelCapacity = 4096

func newHub(jobs <-chan JobUpdate, db, ws chan<- JobUpdate, log *simpleLogger) *hub {
	return &hub{jobs: jobs, db: db, ws: ws, log: log}
}

// hubFatalErr distinguishes a hub shutdown caused by a dead sink from a
// clean shutdown (job channel closed, e.g. in tests).
type hubFatalErr struct {
	sink string
}

func (e *hubFatalErr) Error() string {
	return "hub: " + e.sink + " sink channel closed"
}

// run drains the job channel until it closes (clean exit, nil error) or a
// downstream sink channel is discovered closed (fatal, returns hubFatalErr).
func (h *hub) run() error {
	for job := range h.jobs {
		if h.db != nil {
			if err := h.send(h.db, job, "db"); err != nil {
				return err
			}
		}
		if h.ws != nil {
			if err := h.send(h.ws, job, "ws"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *hub) send(sink chan<- JobUpdate, job JobUpdate, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("hub sink channel closed, terminating hub", "sink", name)
			err = &hubFatalErr{sink: name}
		}
	}()
	select {
	case sink <- job:
		return nil
	default:
		h.log.Warn("hub sink full, dropping update", "sink", name, "pool", job.Pool.Name)
		return nil
	}
}
