package benchmarks

// GetMicrobenchmarks returns the standard set of microbenchmarks. Each one
// targets a specific characteristic of the timing model.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		memorySequential(),
		functionCalls(),
		branchLoop(),
		multiplyChain(),
		forkJoin(),
		parallelWorkers(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation: a loop,
// memory traffic and one multi-threaded run.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		branchLoop(),
		memorySequential(),
		forkJoin(),
	}
}

func program(parts ...[]uint32) []byte {
	var words []uint32
	for _, p := range parts {
		words = append(words, p...)
	}
	return BuildProgram(words...)
}

// countdown spins n times and then exits with code.
func countdown(n, code int32) []byte {
	return program([]uint32{
		EncodeADDI(T0, Zero, n),
		EncodeADDI(T0, T0, -1),
		EncodeBNE(T0, Zero, -4),
	}, ExitWith(code))
}

// reap waits for any child and adds its exit code to acc.
func reap(acc uint32) []uint32 {
	return []uint32{
		EncodeADDI(A0, Zero, -1),
		EncodeLUI(A1, DataBase),
		EncodeADDI(A2, Zero, 0),
		EncodeADDI(A7, Zero, SysWait4),
		EncodeECALL(),
		EncodeLW(T1, A1, 0),
		EncodeSRLI(T1, T1, 8),
		EncodeADD(acc, acc, T1),
	}
}

func arithmeticSequential() Benchmark {
	var body []uint32
	for i := 0; i < 20; i++ {
		r := A0 + uint32(i%5)
		body = append(body, EncodeADDI(r, r, 1))
	}
	return Benchmark{
		Name:         "arithmetic_sequential",
		Description:  "20 ADDs over 5 registers - measures issue throughput",
		Program:      program(body, Exit()),
		ExpectedExit: 4,
	}
}

func dependencyChain() Benchmark {
	var body []uint32
	for i := 0; i < 20; i++ {
		body = append(body, EncodeADDI(A0, A0, 1))
	}
	return Benchmark{
		Name:         "dependency_chain",
		Description:  "20 dependent ADDs (a0 = a0 + 1) - measures scoreboard stalls",
		Program:      program(body, Exit()),
		ExpectedExit: 20,
	}
}

func memorySequential() Benchmark {
	body := []uint32{EncodeLUI(S0, DataBase)}
	for i := int32(0); i < 8; i++ {
		body = append(body, EncodeADDI(T0, Zero, i+1), EncodeSD(T0, S0, 8*i))
	}
	body = append(body, EncodeADDI(A0, Zero, 0))
	for i := int32(0); i < 8; i++ {
		body = append(body, EncodeLD(T1, S0, 8*i), EncodeADD(A0, A0, T1))
	}
	return Benchmark{
		Name:         "memory_sequential",
		Description:  "8 stores then 8 dependent loads - measures memory cost",
		Program:      program(body, Exit()),
		ExpectedExit: 36,
	}
}

func functionCalls() Benchmark {
	const calls = 5
	body := []uint32{EncodeADDI(A0, Zero, 0)}
	// The callee sits right after the exit sequence.
	callee := int32(1 + calls + 2)
	for i := int32(1); i <= calls; i++ {
		body = append(body, EncodeJAL(RA, 4*(callee-i)))
	}
	body = append(body, Exit()...)
	body = append(body,
		EncodeADDI(A0, A0, 1),
		EncodeJALR(Zero, RA, 0),
	)
	return Benchmark{
		Name:         "function_calls",
		Description:  "5 jal/ret pairs - measures fetch redirects",
		Program:      program(body),
		ExpectedExit: calls,
	}
}

func branchLoop() Benchmark {
	return Benchmark{
		Name:        "branch_loop",
		Description: "10 iterations of a counted loop - measures taken branches",
		Program: program([]uint32{
			EncodeADDI(A0, Zero, 0),
			EncodeADDI(T0, Zero, 10),
			EncodeADDI(A0, A0, 3),
			EncodeADDI(T0, T0, -1),
			EncodeBNE(T0, Zero, -8),
		}, Exit()),
		ExpectedExit: 30,
	}
}

func multiplyChain() Benchmark {
	body := []uint32{
		EncodeADDI(A0, Zero, 1),
		EncodeADDI(T0, Zero, 3),
	}
	for i := 0; i < 4; i++ {
		body = append(body, EncodeMUL(A0, A0, T0))
	}
	return Benchmark{
		Name:         "multiply_chain",
		Description:  "4 dependent MULs - measures multi-cycle latency",
		Program:      program(body, Exit()),
		ExpectedExit: 81,
	}
}

func forkJoin() Benchmark {
	return Benchmark{
		Name:        "fork_join",
		Description: "root waits in wait4 for one worker - measures thread switches",
		Program: program(
			[]uint32{EncodeADDI(S1, Zero, 0)},
			reap(S1),
			[]uint32{EncodeADDI(A0, S1, 0)},
			Exit(),
		),
		Workers:      [][]byte{countdown(20, 7)},
		ExpectedExit: 7,
	}
}

func parallelWorkers() Benchmark {
	return Benchmark{
		Name:        "parallel_workers",
		Description: "root reaps three workers - scales with harts",
		Program: program(
			[]uint32{EncodeADDI(S1, Zero, 0)},
			reap(S1),
			reap(S1),
			reap(S1),
			[]uint32{EncodeADDI(A0, S1, 0)},
			Exit(),
		),
		Workers: [][]byte{
			countdown(30, 1),
			countdown(30, 2),
			countdown(30, 3),
		},
		ExpectedExit: 6,
	}
}
