package consume

import "flightsink/source/kafka"

// Ledger tracks, per partition, the next offset after the last record seen
// (consumed) and after the last record covered by a successful flush
// (durable). Records skipped as undecodable count as covered by the next
// flush, since there is nothing of theirs to persist.
type Ledger struct {
	consumed kafka.Offsets
	durable  kafka.Offsets
}

func NewLedger() *Ledger {
	return &Ledger{consumed: kafka.Offsets{}, durable: kafka.Offsets{}}
}

func (l *Ledger) Observe(rec kafka.RawRecord) {
	l.consumed.Advance(kafka.TopicPartition{Topic: rec.Topic, Partition: rec.Partition}, rec.Offset+1)
}

// Promote marks everything consumed so far as durable.
func (l *Ledger) Promote() {
	for tp, off := range l.consumed {
		l.durable.Advance(tp, off)
	}
}

func (l *Ledger) Consumed() kafka.Offsets { return l.consumed.Clone() }

func (l *Ledger) Durable() kafka.Offsets { return l.durable.Clone() }
