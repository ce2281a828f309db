package tle

const (
	issTLE = "ISS (ZARYA)\n" +
		"1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005\n" +
		"2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09\n"

	gpsTLE = "GPS BIIR-2  (PRN 13)\n" +
		"1 24876U 97035A   24100.50000000  .00000010  00000-0  00000-0 0  9991\n" +
		"2 24876  55.5000 150.0000 0040000  50.0000 310.0000  2.00560000    01\n"

	galileoTLE = "GSAT0101 (PRN E11)\n" +
		"1 37846U 11060A   24100.50000000 -.00000050  00000-0  00000-0 0  9990\n" +
		"2 37846  56.1000  20.0000 0003000 300.0000  60.0000  1.70475000    02\n"
)
