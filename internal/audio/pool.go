package audio

import "sync"

// MaxPacketFrames bounds the packets handed out by the pool. Backends that
// read larger blocks split them.
const MaxPacketFrames = 4096

// packetPool holds reusable packet buffers for the producer hot path so
// backends do not allocate per read.
var packetPool = sync.Pool{
	New: func() interface{} {
		p := make(Packet, 0, MaxPacketFrames)
		return &p
	},
}

// AcquirePacket gets an empty packet buffer from the pool.
func AcquirePacket() *Packet {
	p := packetPool.Get().(*Packet)
	*p = (*p)[:0]
	return p
}

// ReleasePacket returns a packet buffer to the pool.
func ReleasePacket(p *Packet) {
	if p == nil || cap(*p) > MaxPacketFrames {
		return
	}
	packetPool.Put(p)
}
